// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/hatchery/lib/secret"
)

// Memory is an in-process Store. Values sit on the ordinary heap, so
// it is only suitable for tests.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte

	// failures makes Get fail for specific refs, to exercise
	// collect-and-skip resolution paths.
	failures map[string]error
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte), failures: make(map[string]error)}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, owner, name string, value []byte) (string, error) {
	if err := validate(owner, name); err != nil {
		return "", err
	}
	if len(value) == 0 {
		return "", fmt.Errorf("secretstore: empty value for %s/%s", owner, name)
	}
	ref := Ref(owner, name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[ref] = append([]byte(nil), value...)
	return ref, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, ref string) (*secret.Buffer, error) {
	m.mu.Lock()
	value, ok := m.values[ref]
	failure := m.failures[ref]
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return secret.NewFromBytes(append([]byte(nil), value...))
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[ref]; !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	delete(m.values, ref)
	return nil
}

// FailGet makes every later Get of ref return err. A nil err clears
// the injected failure.
func (m *Memory) FailGet(ref string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, ref)
		return
	}
	m.failures[ref] = err
}

// Len returns the number of stored secrets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
