// Package notifier provides the outbound notification sinks: a chat sink
// for every notified incident and a voice sink for critical escalations.
package notifier

import (
	"context"

	"github.com/good-yellow-bee/callout/internal/models"
)

// ChatSink delivers a structured alert to a chat channel.
type ChatSink interface {
	// Name returns the sink name (e.g., "slack").
	Name() string
	// Send delivers one alert. Failure is reported, never fatal; the
	// caller logs it and carries on.
	Send(ctx context.Context, alert models.Alert) error
	// Close releases any resources.
	Close() error
}

// VoiceSink originates a phone call for an escalation.
type VoiceSink interface {
	// Name returns the sink name (e.g., "ami").
	Name() string
	// Call places one call and reports the outcome. Connectivity
	// failures come back as a failed CallResult, not a panic.
	Call(ctx context.Context, req models.CallRequest) models.CallResult
	// Close releases any resources.
	Close() error
}
