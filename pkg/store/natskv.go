// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// KVStore keeps records in one JetStream key/value bucket per kind, named
// "<prefix>_<kind>". Keys are base64 URL encoded so identities may contain
// any character.
type KVStore struct {
	nc      *nats.Conn
	buckets map[Kind]nats.KeyValue
	embed   *server.Server
}

// NewKVStore opens or creates the buckets on an existing JetStream context.
func NewKVStore(js nats.JetStreamContext, prefix string) (*KVStore, error) {
	buckets := make(map[Kind]nats.KeyValue, len(Kinds))
	for _, k := range Kinds {
		name := fmt.Sprintf("%s_%s", prefix, k)
		kv, err := js.KeyValue(name)
		if err != nil {
			kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
				Bucket:  name,
				History: 1,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create/access bucket %s: %w", name, err)
			}
		}
		buckets[k] = kv
	}
	return &KVStore{buckets: buckets}, nil
}

// ConnectKVStore connects to an external NATS server.
func ConnectKVStore(url, prefix string) (*KVStore, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("error connecting to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}
	s, err := NewKVStore(js, prefix)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// StartEmbeddedKVStore runs an in-process JetStream server persisting to
// storeDir and opens the buckets on it.
func StartEmbeddedKVStore(storeDir, prefix string) (*KVStore, error) {
	ns, nc, js, err := StartEmbeddedNATS(storeDir)
	if err != nil {
		return nil, err
	}
	s, err := NewKVStore(js, prefix)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, err
	}
	s.nc = nc
	s.embed = ns
	return s, nil
}

// StartEmbeddedNATS starts a JetStream-enabled server on a random local port.
func StartEmbeddedNATS(storeDir string) (*server.Server, *nats.Conn, nats.JetStreamContext, error) {
	ns, err := server.NewServer(&server.Options{
		JetStream: true,
		StoreDir:  storeDir,
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		NoSigs:    true,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, nil, nil, fmt.Errorf("NATS Server did not start in time")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, nil, nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}
	log.Info().Str("url", ns.ClientURL()).Str("store_dir", storeDir).Msg("embedded_nats_started")
	return ns, nc, js, nil
}

// EncodeKey makes an identity key safe for use as a KV key.
func EncodeKey(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func DecodeKey(s string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *KVStore) bucket(kind Kind) (nats.KeyValue, error) {
	kv, ok := s.buckets[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return kv, nil
}

func (s *KVStore) Load(_ context.Context, kind Kind, key string) ([]byte, error) {
	kv, err := s.bucket(kind)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(EncodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, key)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s/%s: %w", kind, key, err)
	}
	return entry.Value(), nil
}

func (s *KVStore) Save(_ context.Context, kind Kind, key string, data []byte) error {
	kv, err := s.bucket(kind)
	if err != nil {
		return err
	}
	if _, err := kv.Put(EncodeKey(key), data); err != nil {
		return fmt.Errorf("error writing %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *KVStore) Delete(_ context.Context, kind Kind, key string) error {
	kv, err := s.bucket(kind)
	if err != nil {
		return err
	}
	if err := kv.Delete(EncodeKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("error deleting %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *KVStore) Keys(_ context.Context, kind Kind) ([]string, error) {
	kv, err := s.bucket(kind)
	if err != nil {
		return nil, err
	}
	encoded, err := kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error listing %s records: %w", kind, err)
	}
	keys := make([]string, 0, len(encoded))
	for _, k := range encoded {
		d, err := DecodeKey(k)
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("skipping undecodable kv key")
			continue
		}
		keys = append(keys, d)
	}
	return keys, nil
}

// Conn returns the NATS connection owned by the store, nil when the store was
// built on a caller's JetStream context.
func (s *KVStore) Conn() *nats.Conn {
	return s.nc
}

func (s *KVStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	if s.embed != nil {
		s.embed.Shutdown()
		s.embed.WaitForShutdown()
	}
	return nil
}
