// Package classifier decides, before anything is spawned, whether a command
// is destructive, whether it starts a long-running server, and whether it is
// an HTTP request against a loopback address.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// ServerHint is returned with a server command that is missing its trailing '&'.
const ServerHint = "It seems you're trying to run server in foreground! Please run in background using '&'."

// Rule pairs a pattern with the reason reported when it matches.
type Rule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Reason  string `json:"reason" yaml:"reason"`
}

type compiledRule struct {
	re     *regexp.Regexp
	reason string
}

// Classifier holds the ordered rule lists. It is safe for concurrent use.
type Classifier struct {
	dangerous []compiledRule
	server    []compiledRule
}

var (
	loopbackHostRe = regexp.MustCompile(`localhost|127\.0\.0\.1`)
	loopbackPortRe = regexp.MustCompile(`localhost:(\d+)|127\.0\.0\.1:(\d+)`)
)

// DefaultDangerousRules returns the built-in destructive-intent rules, in match order.
func DefaultDangerousRules() []Rule {
	return []Rule{
		{Pattern: `^rm\s+.*-[rf].*`, Reason: "recursive or forced delete"},
		{Pattern: `^rm\s+/`, Reason: "delete from the filesystem root"},
		{Pattern: `^rm\s+.*\*`, Reason: "wildcard delete"},
		{Pattern: `^sudo\s+rm`, Reason: "privileged delete"},
		{Pattern: `^dd\s+`, Reason: "raw block device write"},
		{Pattern: `^mkfs\.`, Reason: "filesystem formatting"},
		{Pattern: `^fdisk`, Reason: "disk partitioning"},
		{Pattern: `^parted`, Reason: "disk partitioning"},
		{Pattern: `^format`, Reason: "disk formatting"},
		{Pattern: `^chmod\s+777`, Reason: "world-writable permissions"},
		{Pattern: `^chmod\s+-r\s+777`, Reason: "recursive world-writable permissions"},
	}
}

// DefaultServerRules returns the built-in long-running server launchers.
func DefaultServerRules() []Rule {
	return []Rule{
		{Pattern: `^uvicorn\s+`, Reason: "uvicorn server"},
		{Pattern: `^flask\s+run`, Reason: "flask development server"},
		{Pattern: `^python\s+-m\s+http\.server`, Reason: "python http server"},
		{Pattern: `^node\s+.*server\.js`, Reason: "node server"},
		{Pattern: `^npm\s+start`, Reason: "npm start"},
		{Pattern: `^yarn\s+start`, Reason: "yarn start"},
		{Pattern: `^django-admin\s+runserver`, Reason: "django development server"},
		{Pattern: `^python\s+manage\.py\s+runserver`, Reason: "django development server"},
		{Pattern: `^gunicorn\s+`, Reason: "gunicorn server"},
		{Pattern: `^hypercorn\s+`, Reason: "hypercorn server"},
	}
}

// RulesFromPatterns wraps bare patterns, typically from configuration, into rules.
func RulesFromPatterns(patterns []string, reason string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, Rule{Pattern: p, Reason: reason})
	}
	return rules
}

// New compiles the given rule lists. Patterns are matched against the
// trimmed, lower-cased command.
func New(dangerous, server []Rule) (*Classifier, error) {
	c := &Classifier{}
	var err error

	if c.dangerous, err = compile(dangerous); err != nil {
		return nil, fmt.Errorf("dangerous rules: %w", err)
	}
	if c.server, err = compile(server); err != nil {
		return nil, fmt.Errorf("server rules: %w", err)
	}
	return c, nil
}

// Default returns a classifier with the built-in rules.
func Default() *Classifier {
	c, err := New(DefaultDangerousRules(), DefaultServerRules())
	if err != nil {
		panic(err)
	}
	return c
}

func compile(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", r.Pattern, err)
		}
		out = append(out, compiledRule{re: re, reason: r.Reason})
	}
	return out, nil
}

func normalize(command string) string {
	return strings.ToLower(strings.TrimSpace(command))
}

// IsDangerous reports whether the command, or any segment of a '&&' chain,
// matches a destructive rule. The first matching rule supplies the reason.
func (c *Classifier) IsDangerous(command string) (bool, string) {
	cmd := normalize(command)
	if dangerous, reason := c.matchDangerous(cmd); dangerous {
		return true, reason
	}
	if !strings.Contains(cmd, "&&") {
		return false, ""
	}
	for _, segment := range strings.Split(cmd, "&&") {
		if dangerous, reason := c.matchDangerous(strings.TrimSpace(segment)); dangerous {
			return true, reason
		}
	}
	return false, ""
}

func (c *Classifier) matchDangerous(cmd string) (bool, string) {
	for _, r := range c.dangerous {
		if r.re.MatchString(cmd) {
			return true, r.reason
		}
	}
	return false, ""
}

// IsServerCommand reports whether the command launches a server in the
// foreground. Commands already ending in '&' are not reported.
func (c *Classifier) IsServerCommand(command string) (bool, string) {
	cmd := normalize(command)
	if HasBackgroundMarker(cmd) {
		return false, ""
	}
	for _, r := range c.server {
		if r.re.MatchString(cmd) {
			return true, ServerHint
		}
	}
	return false, ""
}

// IsLocalLoopbackRequest reports whether the command is a curl request to a
// loopback address.
func IsLocalLoopbackRequest(command string) bool {
	cmd := strings.TrimSpace(command)
	return strings.HasPrefix(cmd, "curl ") && loopbackHostRe.MatchString(cmd)
}

// LoopbackPort extracts the port from a loopback URL in the command.
func LoopbackPort(command string) (string, bool) {
	m := loopbackPortRe.FindStringSubmatch(command)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// HasBackgroundMarker reports whether the command ends with a single '&'.
// A trailing '&&' is a dangling chain, not a marker.
func HasBackgroundMarker(command string) bool {
	cmd := strings.TrimSpace(command)
	return strings.HasSuffix(cmd, "&") && !strings.HasSuffix(cmd, "&&")
}

// StripBackgroundMarker removes one trailing '&' and surrounding whitespace.
func StripBackgroundMarker(command string) string {
	cmd := strings.TrimSpace(command)
	return strings.TrimSpace(strings.TrimSuffix(cmd, "&"))
}
