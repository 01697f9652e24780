// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bureau-foundation/hatchery/lib/secret"
)

// ErrNotFound is returned by Get and Delete for an unknown ref.
var ErrNotFound = errors.New("secretstore: secret not found")

// Store is the secret storage contract.
type Store interface {
	// Put stores value under owner/name, replacing any previous
	// value, and returns the secret's ref. value is not retained.
	Put(ctx context.Context, owner, name string, value []byte) (string, error)

	// Get returns the value for ref. The caller must Close it.
	Get(ctx context.Context, ref string) (*secret.Buffer, error)

	// Delete removes the secret. Deleting an unknown ref returns
	// ErrNotFound.
	Delete(ctx context.Context, ref string) error
}

const refPrefix = "secret:"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Ref returns the ref for owner/name without touching any store.
func Ref(owner, name string) string {
	return refPrefix + owner + "/" + name
}

// ParseRef splits ref into owner and name.
func ParseRef(ref string) (owner, name string, err error) {
	rest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return "", "", fmt.Errorf("secretstore: ref %q lacks %q prefix", ref, refPrefix)
	}
	owner, name, ok = strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("secretstore: ref %q has no name", ref)
	}
	if err := validate(owner, name); err != nil {
		return "", "", err
	}
	return owner, name, nil
}

func validate(owner, name string) error {
	if !namePattern.MatchString(owner) {
		return fmt.Errorf("secretstore: invalid owner %q", owner)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("secretstore: invalid name %q", name)
	}
	return nil
}
