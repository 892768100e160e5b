// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package eventlog

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Serializer handles record encoding/decoding for bus messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts a record to JSON bytes.
func (s *Serializer) Marshal(rec *Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("validate record: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	return data, nil
}

// Unmarshal converts JSON bytes to a record. Records with a schema version
// newer than this build understands are rejected.
func (s *Serializer) Unmarshal(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}
	if rec.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("record schema version %d not supported", rec.SchemaVersion)
	}

	return &rec, nil
}

// Envelope marshals a payload and wraps it in a new record envelope.
func (s *Serializer) Envelope(typ RecordType, payload any) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return NewRecord(typ, data), nil
}
