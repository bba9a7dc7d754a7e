package classifier

import "testing"

func TestIsDangerous(t *testing.T) {
	c := Default()

	tests := []struct {
		name      string
		command   string
		dangerous bool
		reason    string
	}{
		{"recursive delete", "rm -rf build", true, "recursive or forced delete"},
		{"forced delete", "rm -f notes.txt", true, "recursive or forced delete"},
		{"root delete", "rm /etc/passwd", true, "delete from the filesystem root"},
		{"wildcard delete", "rm *.log", true, "wildcard delete"},
		{"sudo delete", "sudo rm notes.txt", true, "privileged delete"},
		{"dd", "dd if=/dev/zero of=/dev/sda", true, "raw block device write"},
		{"mkfs", "mkfs.ext4 /dev/sdb1", true, "filesystem formatting"},
		{"fdisk", "fdisk -l", true, "disk partitioning"},
		{"parted", "parted /dev/sda", true, "disk partitioning"},
		{"format", "format c:", true, "disk formatting"},
		{"chmod 777", "chmod 777 script.sh", true, "world-writable permissions"},
		{"chmod -R 777 upper case", "CHMOD -R 777 /srv", true, "recursive world-writable permissions"},
		{"leading whitespace", "   rm -rf /", true, "recursive or forced delete"},
		{"plain rm", "rm notes.txt", false, ""},
		{"ls", "ls -la", false, ""},
		{"chmod 755", "chmod 755 script.sh", false, ""},
		{"echo mentioning rm", "echo rm -rf", false, ""},
		{"chained delete", "cd /tmp && rm -rf x", true, "recursive or forced delete"},
		{"chained privileged delete", "ls &&   sudo rm notes.txt", true, "privileged delete"},
		{"safe chain", "mkdir d && cd d && echo rm -rf", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dangerous, reason := c.IsDangerous(tt.command)
			if dangerous != tt.dangerous {
				t.Errorf("IsDangerous(%q) = %v, want %v", tt.command, dangerous, tt.dangerous)
			}
			if reason != tt.reason {
				t.Errorf("IsDangerous(%q) reason = %q, want %q", tt.command, reason, tt.reason)
			}
		})
	}
}

func TestIsServerCommand(t *testing.T) {
	c := Default()

	tests := []struct {
		command string
		server  bool
	}{
		{"uvicorn main:app --reload", true},
		{"flask run --port 5000", true},
		{"python -m http.server 8000", true},
		{"node src/server.js", true},
		{"npm start", true},
		{"yarn start", true},
		{"django-admin runserver", true},
		{"python manage.py runserver 0.0.0.0:8000", true},
		{"gunicorn app:app", true},
		{"hypercorn app:app", true},
		{"npm start &", false},
		{"uvicorn main:app &", false},
		{"npm install", false},
		{"node build.js", false},
		{"python script.py", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			server, hint := c.IsServerCommand(tt.command)
			if server != tt.server {
				t.Errorf("IsServerCommand(%q) = %v, want %v", tt.command, server, tt.server)
			}
			if server && hint != ServerHint {
				t.Errorf("Expected server hint, got %q", hint)
			}
			if !server && hint != "" {
				t.Errorf("Expected empty hint, got %q", hint)
			}
		})
	}
}

func TestCustomRules(t *testing.T) {
	c, err := New(
		[]Rule{{Pattern: `^shutdown`, Reason: "host shutdown"}},
		[]Rule{{Pattern: `^rails\s+server`, Reason: "rails"}},
	)
	if err != nil {
		t.Fatalf("Failed to build classifier: %v", err)
	}

	if dangerous, reason := c.IsDangerous("shutdown -h now"); !dangerous || reason != "host shutdown" {
		t.Errorf("Expected custom dangerous rule to match, got %v %q", dangerous, reason)
	}
	if dangerous, _ := c.IsDangerous("rm -rf /"); dangerous {
		t.Error("Expected built-in rules to be replaced, not merged")
	}
	if server, _ := c.IsServerCommand("rails server -p 3000"); !server {
		t.Error("Expected custom server rule to match")
	}
}

func TestRuleOrder(t *testing.T) {
	c, err := New([]Rule{
		{Pattern: `^rm`, Reason: "first"},
		{Pattern: `^rm\s+-rf`, Reason: "second"},
	}, nil)
	if err != nil {
		t.Fatalf("Failed to build classifier: %v", err)
	}

	if _, reason := c.IsDangerous("rm -rf x"); reason != "first" {
		t.Errorf("Expected first matching rule to win, got %q", reason)
	}
}

func TestInvalidPattern(t *testing.T) {
	if _, err := New([]Rule{{Pattern: `([`, Reason: "broken"}}, nil); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestRulesFromPatterns(t *testing.T) {
	rules := RulesFromPatterns([]string{"^a", "^b"}, "configured")
	if len(rules) != 2 || rules[1].Pattern != "^b" || rules[0].Reason != "configured" {
		t.Errorf("Unexpected rules: %+v", rules)
	}
}

func TestLoopbackCheck(t *testing.T) {
	tests := []struct {
		command  string
		loopback bool
		port     string
	}{
		{"curl http://localhost:8000/health", true, "8000"},
		{"curl -s 127.0.0.1:5000", true, "5000"},
		{"curl http://localhost/", true, ""},
		{"curl https://example.com", false, ""},
		{"wget http://localhost:8000", false, "8000"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := IsLocalLoopbackRequest(tt.command); got != tt.loopback {
				t.Errorf("IsLocalLoopbackRequest(%q) = %v, want %v", tt.command, got, tt.loopback)
			}
			port, ok := LoopbackPort(tt.command)
			if port != tt.port || ok != (tt.port != "") {
				t.Errorf("LoopbackPort(%q) = %q %v, want %q", tt.command, port, ok, tt.port)
			}
		})
	}
}

func TestBackgroundMarker(t *testing.T) {
	if !HasBackgroundMarker("npm start &") {
		t.Error("Expected trailing & to be detected")
	}
	if !HasBackgroundMarker("npm start &  ") {
		t.Error("Expected trailing & with whitespace to be detected")
	}
	if HasBackgroundMarker("echo a & echo b") {
		t.Error("Expected inner & to be ignored")
	}
	if HasBackgroundMarker("echo hi &&") || HasBackgroundMarker("echo hi && ") {
		t.Error("Expected trailing && not to count as a background marker")
	}
	if got := StripBackgroundMarker("  npm start  & "); got != "npm start" {
		t.Errorf("Expected 'npm start', got %q", got)
	}
}
