// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"math"
	mrand "math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/driftlab/feedcore/internal/metrics"
	"github.com/driftlab/feedcore/internal/store"
)

// ExportFormat selects the serialization of an exported split.
type ExportFormat string

const (
	FormatJSON  ExportFormat = "json"
	FormatJSONL ExportFormat = "jsonl"
	FormatCSV   ExportFormat = "csv"
)

// ExportOptions control the optional transform stages of one export.
type ExportOptions struct {
	Format ExportFormat
	// DifferentialPrivacy applies Laplace noise to numerical fields and
	// generalizes categoricals before serialization.
	DifferentialPrivacy bool
	// Epsilon is the privacy budget; smaller means noisier. Zero uses 1.0.
	Epsilon float64
	// Compress zstd-compresses the serialized payload.
	Compress bool
	// Encrypt seals the payload with ChaCha20-Poly1305. Requires a key on
	// the exporter.
	Encrypt bool
}

// ExportResult is the handle and metadata of one persisted export.
type ExportResult struct {
	ExportID   string       `json:"export_id"`
	Key        string       `json:"key"`
	Format     ExportFormat `json:"format"`
	Count      int          `json:"count"`
	Size       int          `json:"size"`
	Compressed bool         `json:"compressed"`
	Encrypted  bool         `json:"encrypted"`
	Checksum   string       `json:"checksum"`
	CreatedAt  time.Time    `json:"created_at"`
}

// exportEnvelope is what actually persists under the export key.
type exportEnvelope struct {
	Meta ExportResult `json:"meta"`
	Data []byte       `json:"data"`
}

// Exporter serializes dataset splits and persists them through the store.
type Exporter struct {
	store   *store.Store
	encoder *zstd.Encoder
	aeadKey []byte
	logger  zerolog.Logger
	noise   *mrand.Rand
}

// NewExporter creates an exporter. encryptionKey enables the Encrypt
// option; it must be chacha20poly1305.KeySize bytes or empty.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewExporter(st *store.Store, encryptionKey []byte, logger zerolog.Logger) (*Exporter, error) {
	if len(encryptionKey) != 0 && len(encryptionKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d",
			chacha20poly1305.KeySize, len(encryptionKey))
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &Exporter{
		store:   st,
		encoder: encoder,
		aeadKey: encryptionKey,
		logger:  logger.With().Str("component", "pipeline-export").Logger(),
		noise:   mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Export serializes points per the options, persists the payload, and
// returns the handle. The input is never mutated.
func (e *Exporter) Export(ctx context.Context, points []RetrainingDataPoint, opts ExportOptions) (*ExportResult, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("export: no data points")
	}
	if opts.Format == "" {
		opts.Format = FormatJSONL
	}
	if opts.Encrypt && len(e.aeadKey) == 0 {
		return nil, fmt.Errorf("export: encryption requested but no key configured")
	}

	work := points
	if opts.DifferentialPrivacy {
		epsilon := opts.Epsilon
		if epsilon <= 0 {
			epsilon = 1.0
		}
		work = e.anonymize(points, epsilon)
	}

	data, err := serialize(work, opts.Format)
	if err != nil {
		return nil, err
	}

	if opts.Compress {
		data = e.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	}

	if opts.Encrypt {
		data, err = e.seal(data)
		if err != nil {
			return nil, err
		}
	}

	checksum := sha256.Sum256(data)
	exportID := uuid.New().String()
	result := ExportResult{
		ExportID:   exportID,
		Key:        "pipeline/exports/" + exportID,
		Format:     opts.Format,
		Count:      len(work),
		Size:       len(data),
		Compressed: opts.Compress,
		Encrypted:  opts.Encrypt,
		Checksum:   hex.EncodeToString(checksum[:]),
		CreatedAt:  time.Now().UTC(),
	}

	if e.store != nil {
		envelope := exportEnvelope{Meta: result, Data: data}
		if err := e.store.Put(ctx, result.Key, envelope); err != nil {
			return nil, fmt.Errorf("persist export: %w", err)
		}
	}

	metrics.ExportsCompleted.WithLabelValues(string(opts.Format)).Inc()
	e.logger.Info().
		Str("export", exportID).
		Str("format", string(opts.Format)).
		Int("count", result.Count).
		Int("size", result.Size).
		Bool("compressed", result.Compressed).
		Bool("encrypted", result.Encrypted).
		Msg("dataset exported")
	return &result, nil
}

// Load retrieves a persisted export payload, unsealing and decompressing
// per its metadata.
func (e *Exporter) Load(ctx context.Context, key string) (*ExportResult, []byte, error) {
	var envelope exportEnvelope
	if err := e.store.Get(ctx, key, &envelope); err != nil {
		return nil, nil, fmt.Errorf("load export: %w", err)
	}

	data := envelope.Data
	if envelope.Meta.Encrypted {
		var err error
		data, err = e.open(data)
		if err != nil {
			return nil, nil, err
		}
	}
	if envelope.Meta.Compressed {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer decoder.Close()
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress export: %w", err)
		}
	}
	return &envelope.Meta, data, nil
}

// anonymize applies Laplace noise (scale 1/epsilon for unit sensitivity)
// to numerical fields and generalizes categoricals to coarse classes.
func (e *Exporter) anonymize(points []RetrainingDataPoint, epsilon float64) []RetrainingDataPoint {
	scale := 1.0 / epsilon

	out := make([]RetrainingDataPoint, len(points))
	for i := range points {
		p := points[i]
		p.Features = copyFeatures(points[i].Features)
		for name, val := range p.Features {
			p.Features[name] = val + e.laplace(scale)
		}
		p.PredictedRank = clamp01(p.PredictedRank + e.laplace(scale))
		p.Engagement.Strength = clamp01(p.Engagement.Strength + e.laplace(scale))

		// Categoricals generalize to their class, dropping identifiers.
		p.Categoricals = map[string]string{
			"content_type": p.Categoricals["content_type"],
		}
		// Timestamps coarsen to the hour.
		p.AnonymizedAt = p.AnonymizedAt.Truncate(time.Hour)
		out[i] = p
	}
	return out
}

// laplace draws from Laplace(0, scale) by inverse transform.
func (e *Exporter) laplace(scale float64) float64 {
	u := e.noise.Float64() - 0.5
	return -scale * sign(u) * math.Log(1-2*math.Abs(u))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// seal encrypts with XChaCha20-Poly1305, prepending the random nonce.
func (e *Exporter) seal(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.aeadKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

// open decrypts a sealed payload.
func (e *Exporter) open(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.aeadKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(data) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed payload too short")
	}
	nonce, sealed := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal export: %w", err)
	}
	return plain, nil
}

// serialize renders points in the chosen format.
func serialize(points []RetrainingDataPoint, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.Marshal(points)
		if err != nil {
			return nil, fmt.Errorf("marshal json export: %w", err)
		}
		return data, nil

	case FormatJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for i := range points {
			if err := enc.Encode(&points[i]); err != nil {
				return nil, fmt.Errorf("marshal jsonl export: %w", err)
			}
		}
		return buf.Bytes(), nil

	case FormatCSV:
		return serializeCSV(points)

	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// serializeCSV flattens points into rows with name-sorted feature columns.
func serializeCSV(points []RetrainingDataPoint) ([]byte, error) {
	featureNames := map[string]bool{}
	for i := range points {
		for name := range points[i].Features {
			featureNames[name] = true
		}
	}
	columns := make([]string, 0, len(featureNames))
	for name := range featureNames {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	header := append([]string{
		"id", "algorithm_type", "predicted_rank",
		"engagement_type", "engagement_strength", "watch_percentage",
		"model_version", "quality_score", "split", "anonymized_at",
	}, columns...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for i := range points {
		p := &points[i]
		row := []string{
			p.ID,
			string(p.AlgorithmType),
			strconv.FormatFloat(p.PredictedRank, 'f', 6, 64),
			p.Engagement.Type,
			strconv.FormatFloat(p.Engagement.Strength, 'f', 6, 64),
			strconv.FormatFloat(p.Engagement.WatchPercentage, 'f', 6, 64),
			strconv.Itoa(p.ModelVersion),
			strconv.FormatFloat(p.QualityScore, 'f', 6, 64),
			string(p.Split),
			p.AnonymizedAt.Format(time.RFC3339),
		}
		for _, name := range columns {
			row = append(row, strconv.FormatFloat(p.Features[name], 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
