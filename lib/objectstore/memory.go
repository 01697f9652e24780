// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/hatchery/lib/clock"
)

// Memory is an in-process Store for tests.
type Memory struct {
	clock clock.Clock

	mu      sync.Mutex
	objects map[string][]byte

	// uploadErr, when set, fails every Upload.
	uploadErr error
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store whose URL expiry follows clk.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clock: clk, objects: make(map[string][]byte)}
}

func memoryPath(bucket, key string) string {
	return bucket + "/" + key
}

// Upload implements Store.
func (m *Memory) Upload(_ context.Context, bucket, key string, data []byte) error {
	if err := validateObject(bucket, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.objects[memoryPath(bucket, key)] = append([]byte(nil), data...)
	return nil
}

// SignedURL implements Store.
func (m *Memory) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if err := validateObject(bucket, key); err != nil {
		return "", err
	}
	if err := checkTTL(ttl); err != nil {
		return "", err
	}
	expires := m.clock.Now().Add(ttl).Unix()
	return "memory://" + memoryPath(bucket, key) + "?expires=" + strconv.FormatInt(expires, 10), nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := memoryPath(bucket, key)
	if _, ok := m.objects[path]; !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	delete(m.objects, path)
	return nil
}

// Object returns a copy of bucket/key.
func (m *Memory) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[memoryPath(bucket, key)]
	return append([]byte(nil), data...), ok
}

// Fetch resolves a URL returned by SignedURL.
func (m *Memory) Fetch(rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme != "memory" {
		return nil, fmt.Errorf("objectstore: not a memory URL: %q", rawURL)
	}
	expires, err := strconv.ParseInt(parsed.Query().Get("expires"), 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if !m.clock.Now().Before(time.Unix(expires, 0)) {
		return nil, ErrExpired
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	data, ok := m.Object(bucket, key)
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return data, nil
}

// FailUploads makes every later Upload return err. Nil clears it.
func (m *Memory) FailUploads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}
