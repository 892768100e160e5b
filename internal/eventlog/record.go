// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package eventlog

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current record envelope version. Increment on
// breaking changes to the envelope or payload shapes.
const SchemaVersion = 1

// Topics carried on the bus.
const (
	TopicImpressions   = "feedback.impressions"
	TopicInteractions  = "feedback.interactions"
	TopicSignalBatches = "signals.batches"
)

// RecordType identifies the payload shape inside an envelope.
type RecordType string

const (
	RecordImpression  RecordType = "impression"
	RecordInteraction RecordType = "interaction"
	RecordSignalBatch RecordType = "signal_batch"
)

// Record is the versioned envelope every published message carries.
// Payload holds the type-specific record as raw JSON so subscribers can
// route on Type before decoding.
type Record struct {
	SchemaVersion int             `json:"schema_version"`
	RecordID      string          `json:"record_id"`
	Type          RecordType      `json:"type"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewRecord wraps a payload in a fresh envelope.
func NewRecord(typ RecordType, payload json.RawMessage) *Record {
	return &Record{
		SchemaVersion: SchemaVersion,
		RecordID:      uuid.New().String(),
		Type:          typ,
		EmittedAt:     time.Now().UTC(),
		Payload:       payload,
	}
}

// Validate checks required envelope fields.
func (r *Record) Validate() error {
	if r.RecordID == "" {
		return &ValidationError{Field: "record_id", Message: "required"}
	}
	if r.Type == "" {
		return &ValidationError{Field: "type", Message: "required"}
	}
	switch r.Type {
	case RecordImpression, RecordInteraction, RecordSignalBatch:
	default:
		return &ValidationError{Field: "type", Message: "unknown record type"}
	}
	if len(r.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "required"}
	}
	return nil
}

// Topic returns the bus topic for this record's type.
func (r *Record) Topic() string {
	switch r.Type {
	case RecordImpression:
		return TopicImpressions
	case RecordInteraction:
		return TopicInteractions
	case RecordSignalBatch:
		return TopicSignalBatches
	default:
		return "feedback.unknown"
	}
}

// ValidationError describes a rejected record field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "eventlog: invalid record: " + e.Field + ": " + e.Message
}
