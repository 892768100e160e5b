// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package signals models inbound user interaction signals and groups them
// into batches for dispatch on the event bus. The Collector is the public
// intake boundary; it throttles per user, stamps identity and time, and
// feeds the Batcher.
package signals

import (
	"time"
)

// SignalType classifies an inbound user signal.
type SignalType string

const (
	SignalView       SignalType = "view"
	SignalEngagement SignalType = "engagement"
	SignalSkip       SignalType = "skip"
	SignalShare      SignalType = "share"
	SignalCompletion SignalType = "completion"
	SignalSession    SignalType = "session"
)

// knownSignalTypes guards intake validation.
var knownSignalTypes = map[SignalType]bool{
	SignalView:       true,
	SignalEngagement: true,
	SignalSkip:       true,
	SignalShare:      true,
	SignalCompletion: true,
	SignalSession:    true,
}

// UserSignal is one immutable inbound interaction signal. BatchID and
// BatchPosition are assigned at dispatch time; all other fields are fixed
// at collection.
type UserSignal struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	SignalType  SignalType        `json:"signal_type"`
	ContentID   string            `json:"content_id,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Action      string            `json:"action,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	SessionID   string            `json:"session_id,omitempty"`

	BatchID       string `json:"batch_id,omitempty"`
	BatchPosition int    `json:"batch_position,omitempty"`
}

// Validate checks the fields callers must supply.
func (s *UserSignal) Validate() error {
	if s.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "required"}
	}
	if s.SignalType == "" {
		return &ValidationError{Field: "signal_type", Message: "required"}
	}
	if !knownSignalTypes[s.SignalType] {
		return &ValidationError{Field: "signal_type", Message: "unknown signal type"}
	}
	return nil
}

// SignalBatch groups dispatched signals. Data holds the marshaled signal
// slice, zstd-compressed when Compressed is set.
type SignalBatch struct {
	BatchID    string    `json:"batch_id"`
	Count      int       `json:"count"`
	Compressed bool      `json:"compressed"`
	Data       []byte    `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidationError describes a rejected signal field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "signals: invalid signal: " + e.Field + ": " + e.Message
}
