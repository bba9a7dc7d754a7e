package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		if !ok {
			t.Fatalf("Client %d channel closed unexpectedly", c.ID())
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("Timeout waiting for event on client %d", c.ID())
	}
	return Event{}
}

func TestPublishToAllClients(t *testing.T) {
	bus := NewEventBus(16, 16, nil)
	defer bus.Close()

	const n = 8
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = bus.RegisterClient()
	}

	if !bus.Publish(CommandEvent("s1", "c1", "ls", "/tmp", SourceAgent)) {
		t.Fatal("Expected publish to succeed")
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, c := range clients {
		c := c
		g.Go(func() error {
			select {
			case e := <-c.Events():
				if e.CommandID != "c1" {
					return fmt.Errorf("client %d got command id %q", c.ID(), e.CommandID)
				}
			case <-time.After(2 * time.Second):
				return fmt.Errorf("client %d timed out", c.ID())
			}
			// exactly one copy
			select {
			case e := <-c.Events():
				return fmt.Errorf("client %d got unexpected second event %+v", c.ID(), e)
			case <-time.After(50 * time.Millisecond):
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		t.Error(err)
	}
}

func TestUnregisteredClientReceivesNothing(t *testing.T) {
	bus := NewEventBus(16, 16, nil)
	defer bus.Close()

	stays := bus.RegisterClient()
	leaves := bus.RegisterClient()
	bus.UnregisterClient(leaves)

	bus.Publish(OutputEvent("s1", "c1", "hello", "/tmp", SourceAgent))

	if e := receive(t, stays); e.Content != "hello" {
		t.Errorf("Expected content 'hello', got %q", e.Content)
	}

	if e, ok := <-leaves.Events(); ok {
		t.Errorf("Expected unregistered client to receive nothing, got %+v", e)
	}
	if bus.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", bus.ClientCount())
	}

	// second unregister is a no-op
	bus.UnregisterClient(leaves)
}

func TestEventOrder(t *testing.T) {
	bus := NewEventBus(64, 64, nil)
	defer bus.Close()

	c := bus.RegisterClient()
	for i := 0; i < 20; i++ {
		bus.Publish(OutputEvent("s1", fmt.Sprintf("c%d", i), "", "", SourceAgent))
	}

	for i := 0; i < 20; i++ {
		e := receive(t, c)
		if want := fmt.Sprintf("c%d", i); e.CommandID != want {
			t.Fatalf("Expected %s at position %d, got %s", want, i, e.CommandID)
		}
	}
}

func TestSlowClientIsSkipped(t *testing.T) {
	bus := NewEventBus(16, 1, nil)
	defer bus.Close()

	slow := bus.RegisterClient()
	fast := bus.RegisterClient()

	for i := 0; i < 3; i++ {
		bus.Publish(OutputEvent("s1", fmt.Sprintf("c%d", i), "", "", SourceAgent))
		receive(t, fast)
	}

	deadline := time.Now().Add(2 * time.Second)
	for slow.Dropped() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if slow.Dropped() != 2 {
		t.Fatalf("Expected 2 dropped events, got %d", slow.Dropped())
	}
	if e := receive(t, slow); e.CommandID != "c0" {
		t.Errorf("Expected slow client to keep the first event, got %s", e.CommandID)
	}
	if fast.Dropped() != 0 {
		t.Errorf("Expected fast client to drop nothing, got %d", fast.Dropped())
	}
}

func TestCloseDrainsAndClosesClients(t *testing.T) {
	bus := NewEventBus(16, 16, nil)
	c := bus.RegisterClient()

	bus.Publish(OutputEvent("s1", "last", "", "", SourceAgent))
	bus.Close()

	if e := receive(t, c); e.CommandID != "last" {
		t.Errorf("Expected queued event to be delivered before close, got %s", e.CommandID)
	}
	if _, ok := <-c.Events(); ok {
		t.Error("Expected client channel to be closed after bus close")
	}

	if bus.Publish(OutputEvent("s1", "late", "", "", SourceAgent)) {
		t.Error("Expected publish after close to report false")
	}

	late := bus.RegisterClient()
	if _, ok := <-late.Events(); ok {
		t.Error("Expected client registered after close to be closed")
	}

	bus.Close()
}

func TestEventJSON(t *testing.T) {
	e := CommandEvent("s1", "c1", "pwd", "/work", SourceAgent)
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}

	if decoded["type"] != "command" || decoded["command"] != "pwd" || decoded["source"] != "agent" {
		t.Errorf("Unexpected event fields: %v", decoded)
	}
	if decoded["working_directory"] != "/work" {
		t.Errorf("Expected working_directory /work, got %v", decoded["working_directory"])
	}
	if _, ok := decoded["timestamp"].(float64); !ok {
		t.Errorf("Expected float timestamp, got %T", decoded["timestamp"])
	}
	if _, ok := decoded["content"]; ok {
		t.Error("Expected content to be omitted from command events")
	}

	noDir := OutputEvent("s1", "c1", "out", "", SourceUser)
	data, _ = json.Marshal(noDir)
	decoded = map[string]interface{}{}
	_ = json.Unmarshal(data, &decoded)
	if v, ok := decoded["working_directory"]; !ok || v != nil {
		t.Errorf("Expected working_directory null, got %v (present=%v)", v, ok)
	}

	empty := OutputEvent("s1", "c2", "", "/work", SourceAgent)
	data, _ = json.Marshal(empty)
	decoded = map[string]interface{}{}
	_ = json.Unmarshal(data, &decoded)
	if v, ok := decoded["content"]; !ok || v != "" {
		t.Errorf("Expected empty content on output event, got %v (present=%v)", v, ok)
	}
	if decoded["command_id"] != "c2" || decoded["type"] != "output" {
		t.Errorf("Unexpected output event fields: %v", decoded)
	}

	var roundTrip Event
	if err := json.Unmarshal(data, &roundTrip); err != nil || roundTrip.CommandID != "c2" {
		t.Errorf("Expected output event to decode, got %+v (%v)", roundTrip, err)
	}

	if d := time.Since(e.Time()); d < 0 || d > time.Minute {
		t.Errorf("Expected event time close to now, got %v ago", d)
	}
}
