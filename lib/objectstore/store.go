// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for a missing object.
	ErrNotFound = errors.New("objectstore: object not found")

	// ErrInvalidSignature is returned for a URL whose signature does
	// not match its bucket, key and expiry.
	ErrInvalidSignature = errors.New("objectstore: invalid signature")

	// ErrExpired is returned for a correctly signed URL past its
	// expiry.
	ErrExpired = errors.New("objectstore: signed URL expired")
)

// Store is the object storage contract.
type Store interface {
	// Upload writes data to bucket/key, replacing any existing
	// object.
	Upload(ctx context.Context, bucket, key string, data []byte) error

	// SignedURL returns a URL that downloads bucket/key until ttl
	// has elapsed.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// Delete removes bucket/key. A missing object returns
	// ErrNotFound.
	Delete(ctx context.Context, bucket, key string) error
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// validateObject rejects bucket and key values that could escape the
// store's namespace. A key is one or more "/"-separated segments.
func validateObject(bucket, key string) error {
	if !segmentPattern.MatchString(bucket) {
		return fmt.Errorf("objectstore: invalid bucket %q", bucket)
	}
	if key == "" {
		return fmt.Errorf("objectstore: empty key")
	}
	for segment := range strings.SplitSeq(key, "/") {
		if !segmentPattern.MatchString(segment) {
			return fmt.Errorf("objectstore: invalid key %q", key)
		}
	}
	return nil
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("objectstore: ttl must be positive, got %v", ttl)
	}
	return nil
}
