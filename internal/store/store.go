// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package store provides the persistence substrate for FeedCore: a
// BadgerDB-backed key-value store with JSON-encoded values.
//
// Every piece of durable state (schedules, triggers, performance history,
// the retraining data buffer, export artifacts) lives under its own key so
// that corruption of one key never prevents loading the others.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrKeyNotFound is returned when the requested key does not exist.
var ErrKeyNotFound = errors.New("store: key not found")

// ErrCorruptValue is returned when a stored value cannot be decoded.
// Callers are expected to fall back to defaults and continue.
var ErrCorruptValue = errors.New("store: corrupt value")

// Store is a namespaced key-value store backed by BadgerDB.
// It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Options configures a Store.
type Options struct {
	// Path is the on-disk directory for the database.
	// Ignored when InMemory is true.
	Path string

	// InMemory runs the database without persistence. Used in tests.
	InMemory bool
}

// Open opens (or creates) the store at the configured path.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	// Badger logs through its own interface; route it to zerolog.
	badgerOpts = badgerOpts.WithLogger(badgerAdapter{logger: logger})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores value under key, JSON-encoded.
func (s *Store) Put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Get loads the value stored under key into out.
// Returns ErrKeyNotFound when the key is absent and ErrCorruptValue when the
// stored bytes cannot be decoded into out.
func (s *Store) Get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("get %q: %w", key, err)
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, out); err != nil {
				return fmt.Errorf("%w: key %q: %v", ErrCorruptValue, key, err)
			}
			return nil
		})
	})
	return err
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeletePrefix removes all keys starting with prefix.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete %q: %w", key, err)
			}
		}
		return nil
	})
}

// Keys returns all keys starting with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// badgerAdapter routes Badger's internal logging to zerolog.
type badgerAdapter struct {
	logger zerolog.Logger
}

func (a badgerAdapter) Errorf(format string, args ...any) {
	a.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (a badgerAdapter) Warningf(format string, args ...any) {
	a.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (a badgerAdapter) Infof(format string, args ...any) {
	a.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (a badgerAdapter) Debugf(format string, args ...any) {
	a.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}
