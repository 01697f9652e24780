// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response helpers.
//
// JSON helpers ([ReadResponse], [DecodeResponse], [ErrorBody]) cap
// reads at [MaxResponseSize]; they are used for worker gateway API
// responses. [ReadBlob] caps reads at [MaxBlobSize] and is used by the
// worker to download its encrypted startup bundle.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response reads: 1 MB. Pairing
// responses carry at most a QR payload.
const MaxResponseSize int64 = 1 << 20

// MaxBlobSize bounds object downloads: 64 MB.
const MaxBlobSize int64 = 64 << 20

// ErrTooLarge is returned by ReadBlob when the body exceeds its limit.
var ErrTooLarge = errors.New("netutil: response body exceeds size limit")

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (up to MaxResponseSize
// bytes) and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in a diagnostic
// message. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}

// ReadBlob reads a binary body up to MaxBlobSize bytes. Unlike
// ReadResponse it fails instead of truncating, since a truncated
// ciphertext is useless.
func ReadBlob(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxBlobSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxBlobSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
