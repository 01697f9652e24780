// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secret"
)

// KeySize is the AES-256 key size in bytes.
const KeySize = 32

// NonceSize is the GCM nonce size in bytes.
const NonceSize = 12

// tagSize is the GCM authentication tag size in bytes.
const tagSize = 16

// ErrDecryptionFailed is returned by Decrypt for any failure: a
// malformed key, a truncated or tampered blob, or a plaintext that is
// not a well-formed bundle.
var ErrDecryptionFailed = errors.New("bundle: decryption failed")

// Encrypt seals plaintext under key and returns nonce || ciphertext.
// The key is borrowed and not closed.
func Encrypt(plaintext []byte, key *secret.Buffer) ([]byte, error) {
	aead, err := newGCM(key.Bytes())
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("bundle: generating nonce: %w", err)
	}

	output := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	copy(output, nonce[:])
	return aead.Seal(output, nonce[:], plaintext, nil), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("bundle: key is %d bytes, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("bundle: creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("bundle: creating GCM: %w", err)
	}
	return aead, nil
}

// EncodeKey returns the transport form of a bundle key.
func EncodeKey(key *secret.Buffer) string {
	return base64.StdEncoding.EncodeToString(key.Bytes())
}

// wireBundle mirrors hatching.StartupBundle with pointer members so
// Decrypt can tell a missing member from an empty one.
type wireBundle struct {
	ConfigJSON         *string            `json:"config_json"`
	EnvVars            *map[string]string `json:"env_vars"`
	ChannelCredentials *map[string]string `json:"channel_credentials"`
}

// Marshal serializes a bundle to its plaintext form. Nil maps are
// written as empty objects. Strings that are not valid UTF-8 are
// rejected rather than rewritten.
func Marshal(startup *hatching.StartupBundle) ([]byte, error) {
	wire := hatching.StartupBundle{
		ConfigJSON:         startup.ConfigJSON,
		EnvVars:            startup.EnvVars,
		ChannelCredentials: startup.ChannelCredentials,
	}
	if wire.EnvVars == nil {
		wire.EnvVars = map[string]string{}
	}
	if wire.ChannelCredentials == nil {
		wire.ChannelCredentials = map[string]string{}
	}
	if !utf8.ValidString(wire.ConfigJSON) {
		return nil, fmt.Errorf("bundle: config is not valid UTF-8")
	}
	for _, members := range []map[string]string{wire.EnvVars, wire.ChannelCredentials} {
		for name, value := range members {
			if !utf8.ValidString(name) || !utf8.ValidString(value) {
				return nil, fmt.Errorf("bundle: member %q is not valid UTF-8", strings.ToValidUTF8(name, "?"))
			}
		}
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(&wire); err != nil {
		return nil, fmt.Errorf("bundle: serializing: %w", err)
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

// Decrypt is the worker-side inverse of Service.Create: it splits the
// nonce from blob, opens the remainder with the base64 key and parses
// the bundle. It has no side effects. Every failure wraps
// ErrDecryptionFailed.
func Decrypt(blob []byte, keyBase64 string) (*hatching.StartupBundle, error) {
	rawKey, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not base64", ErrDecryptionFailed)
	}
	key, err := secret.NewFromBytes(rawKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer key.Close()

	if len(blob) < NonceSize+tagSize {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecryptionFailed, len(blob), NonceSize+tagSize)
	}
	aead, err := newGCM(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or tampered blob", ErrDecryptionFailed)
	}
	defer secret.Zero(plaintext)

	var wire wireBundle
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return nil, fmt.Errorf("%w: plaintext is not a bundle: %v", ErrDecryptionFailed, err)
	}
	if wire.ConfigJSON == nil || wire.EnvVars == nil || wire.ChannelCredentials == nil {
		return nil, fmt.Errorf("%w: bundle is missing a member", ErrDecryptionFailed)
	}
	return &hatching.StartupBundle{
		ConfigJSON:         *wire.ConfigJSON,
		EnvVars:            *wire.EnvVars,
		ChannelCredentials: *wire.ChannelCredentials,
	}, nil
}
