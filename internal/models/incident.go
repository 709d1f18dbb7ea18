// Package models defines the typed domain records shared across callout.
package models

import "time"

// Incident is an open, unresolved condition reported by the monitoring
// source, validated and typed at the source boundary.
type Incident struct {
	// EventID uniquely identifies the monitoring event.
	EventID string
	// SeverityCode is the ordinal severity reported by the source.
	SeverityCode int
	// Name describes the problem.
	Name string
	// RaisedAt is when the problem was raised.
	RaisedAt time.Time
	// Assignee is the responsible-party username from the incident's tag,
	// empty when the tag is absent.
	Assignee string
}

// Host is the technical and human-readable identity of the host an
// incident occurred on.
type Host struct {
	Hostname    string
	VisibleName string
}

// Contact is a reachable on-call person resolved from the directory.
// Resolved transiently per escalation, never persisted beyond the
// NotificationRecord snapshot.
type Contact struct {
	FullName   string
	Phone      string
	Username   string
	Area       string
	Department string
	ShiftDate  time.Time
}

// NotificationRecord marks an incident as handled. Created exactly once
// per incident and immutable thereafter.
type NotificationRecord struct {
	EventID    string    `json:"event_id"`
	NotifiedAt time.Time `json:"notified_at"`
	Severity   string    `json:"severity"`
	Hostname   string    `json:"hostname"`
	Problem    string    `json:"problem"`
}

// Alert is the structured payload handed to the chat sink.
type Alert struct {
	EventID     string
	Hostname    string
	VisibleName string
	Problem     string
	Severity    string
	Timestamp   time.Time
	GroupLabel  string
}

// CallRequest is the payload handed to the voice sink.
type CallRequest struct {
	Number     string
	MessageKey string
	CallerID   string
	Variables  map[string]string
}

// CallResult is the voice sink's outcome for a single originate attempt.
type CallResult struct {
	Success bool
	CallID  string
	Err     error
}
