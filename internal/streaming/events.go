package streaming

import (
	"encoding/json"
	"time"
)

// EventType distinguishes the two events published per command
type EventType string

const (
	EventTypeCommand EventType = "command"
	EventTypeOutput  EventType = "output"
)

// Source identifies who issued a command
type Source string

const (
	SourceAgent Source = "agent"
	SourceUser  Source = "user"
)

// Event is a single terminal activity notification. WorkingDirectory is
// serialized as null when unknown.
type Event struct {
	Type             EventType `json:"type"`
	Command          string    `json:"command,omitempty"`
	Content          string    `json:"content,omitempty"`
	Source           Source    `json:"source"`
	Timestamp        float64   `json:"timestamp"`
	WorkingDirectory *string   `json:"working_directory"`
	CommandID        string    `json:"command_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
}

// MarshalJSON always emits content on output events, even when the command
// printed nothing
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	if e.Type != EventTypeOutput {
		return json.Marshal(alias(e))
	}
	return json.Marshal(struct {
		alias
		Content string `json:"content"`
	}{alias: alias(e), Content: e.Content})
}

// Time converts the float timestamp back into a time.Time
func (e Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func dirPtr(dir string) *string {
	if dir == "" {
		return nil
	}
	return &dir
}

// CommandEvent builds the event published before a command runs
func CommandEvent(sessionID, commandID, command, workingDir string, source Source) Event {
	return Event{
		Type:             EventTypeCommand,
		Command:          command,
		Source:           source,
		Timestamp:        timestamp(time.Now()),
		WorkingDirectory: dirPtr(workingDir),
		CommandID:        commandID,
		SessionID:        sessionID,
	}
}

// OutputEvent builds the event published after a command finishes or is rejected
func OutputEvent(sessionID, commandID, content, workingDir string, source Source) Event {
	return Event{
		Type:             EventTypeOutput,
		Content:          content,
		Source:           source,
		Timestamp:        timestamp(time.Now()),
		WorkingDirectory: dirPtr(workingDir),
		CommandID:        commandID,
		SessionID:        sessionID,
	}
}
