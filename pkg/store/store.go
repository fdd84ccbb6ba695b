// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package store persists per-device records. Every record is wrapped in a
// versioned envelope and decoded strictly, so a record written by a
// different layout is rejected at load time instead of silently defaulting.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Kind names a family of records.
type Kind string

const (
	KindGDC         Kind = "gdc"
	KindInstability Kind = "instability"
	KindAlert       Kind = "alert"
	KindBaseline    Kind = "baseline"
	KindCooldown    Kind = "cooldown"
)

// Kinds lists every record family, in display order.
var Kinds = []Kind{KindGDC, KindInstability, KindAlert, KindBaseline, KindCooldown}

var (
	ErrNotFound = errors.New("record not found")
	ErrCorrupt  = errors.New("record corrupt")
	ErrVersion  = errors.New("record version mismatch")
)

// Store is a key/value backend for raw envelopes. Save must replace the
// previous value atomically.
type Store interface {
	Load(ctx context.Context, kind Kind, key string) ([]byte, error)
	Save(ctx context.Context, kind Kind, key string, data []byte) error
	Delete(ctx context.Context, kind Kind, key string) error
	Keys(ctx context.Context, kind Kind) ([]string, error)
	Close() error
}

type envelope struct {
	Version int             `json:"version"`
	Kind    Kind            `json:"kind"`
	Key     string          `json:"key"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Put encodes v completely before handing it to the backend.
func Put[T any](ctx context.Context, s Store, kind Kind, key string, version int, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s record %s: %w", kind, key, err)
	}
	raw, err := json.Marshal(envelope{
		Version: version,
		Kind:    kind,
		Key:     key,
		SavedAt: time.Now().UTC(),
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("error encoding %s envelope %s: %w", kind, key, err)
	}
	return s.Save(ctx, kind, key, raw)
}

// Get loads and strictly decodes the record stored under kind/key.
func Get[T any](ctx context.Context, s Store, kind Kind, key string, version int) (T, error) {
	var out T
	raw, err := s.Load(ctx, kind, key)
	if err != nil {
		return out, err
	}
	var env envelope
	if err := strictDecode(raw, &env); err != nil {
		return out, fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, kind, key, err)
	}
	if env.Version != version {
		return out, fmt.Errorf("%w: %s/%s has version %d, want %d", ErrVersion, kind, key, env.Version, version)
	}
	if env.Kind != kind {
		return out, fmt.Errorf("%w: %s/%s holds a %q record", ErrCorrupt, kind, key, env.Kind)
	}
	if err := strictDecode(env.Data, &out); err != nil {
		return out, fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, kind, key, err)
	}
	return out, nil
}

// LoadOrDefault returns the stored record or, when it is missing, corrupt,
// of another version or unreadable, a fresh one from def. The returned error
// is informational; the value is always usable.
func LoadOrDefault[T any](ctx context.Context, s Store, kind Kind, key string, version int, def func() T) (T, error) {
	v, err := Get[T](ctx, s, kind, key, version)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, ErrNotFound):
		return def(), nil
	default:
		log.Warn().Err(err).Str("kind", string(kind)).Str("disk", key).Msg("state_reset_to_default")
		return def(), err
	}
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
