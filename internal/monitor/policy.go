// Package monitor implements the poll-notify-escalate cycle: fetch open
// problems, deduplicate against the notified ledger, post chat alerts and
// place voice calls for critical incidents.
package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy maps raw severity codes to labels and decides which labels
// escalate to a voice call and with which playback message.
type Policy struct {
	// Severities maps source severity codes to labels. Codes absent
	// from the map are not notified at all.
	Severities map[int]string `yaml:"severities"`

	// Escalate lists the severity labels that trigger a voice call.
	Escalate []string `yaml:"escalate"`

	// Messages maps severity labels to playback message keys.
	Messages map[string]string `yaml:"messages"`

	// DefaultMessage is played when a label has no entry in Messages.
	DefaultMessage string `yaml:"default_message"`
}

// DefaultPolicy returns the built-in escalation policy: warnings are
// chat-only, high and disaster severities ring the phone.
func DefaultPolicy() *Policy {
	return &Policy{
		Severities: map[int]string{
			3: "Medium",
			4: "Critical",
			5: "Critical",
		},
		Escalate:       []string{"Critical"},
		Messages:       map[string]string{"Critical": "alerta-critica"},
		DefaultMessage: "alerta-critica",
	}
}

// Validate validates the policy.
func (p *Policy) Validate() error {
	if len(p.Severities) == 0 {
		return fmt.Errorf("at least one severity mapping is required")
	}
	for code, label := range p.Severities {
		if label == "" {
			return fmt.Errorf("severity code %d has an empty label", code)
		}
	}
	for _, label := range p.Escalate {
		if !p.hasLabel(label) {
			return fmt.Errorf("escalate label %q has no severity mapping", label)
		}
	}
	if p.DefaultMessage == "" && len(p.Escalate) > 0 {
		for _, label := range p.Escalate {
			if _, ok := p.Messages[label]; !ok {
				return fmt.Errorf("escalate label %q has no message and no default_message is set", label)
			}
		}
	}
	return nil
}

func (p *Policy) hasLabel(label string) bool {
	for _, l := range p.Severities {
		if l == label {
			return true
		}
	}
	return false
}

// SeverityLabel resolves a source severity code. The second return is
// false for codes the policy does not notify on.
func (p *Policy) SeverityLabel(code int) (string, bool) {
	label, ok := p.Severities[code]
	return label, ok
}

// ShouldEscalate reports whether incidents with this label ring the phone.
func (p *Policy) ShouldEscalate(label string) bool {
	for _, l := range p.Escalate {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// MessageKey returns the playback message for a severity label.
func (p *Policy) MessageKey(label string) string {
	if key, ok := p.Messages[label]; ok {
		return key
	}
	return p.DefaultMessage
}

// LoadPolicyFromFile loads an escalation policy from a YAML file.
func LoadPolicyFromFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	return LoadPolicy(f)
}

// LoadPolicy loads an escalation policy from a reader.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var policy Policy
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return &policy, nil
}
