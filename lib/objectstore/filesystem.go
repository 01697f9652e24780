// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/secret"
)

// MasterKeySize is the required length of the URL signing master key.
const MasterKeySize = 32

var (
	hkdfInfoURLSigning = []byte("hatchery.objects.url-signing.v1")
	signatureDomainTag = []byte("hatchery.objects.signed-url.v1")
)

// Filesystem is a Store rooted at a local directory.
type Filesystem struct {
	root       string
	publicURL  string
	signingKey *secret.Buffer
	clock      clock.Clock
	logger     *slog.Logger
}

var _ Store = (*Filesystem)(nil)

// FilesystemConfig holds the parameters for NewFilesystem.
type FilesystemConfig struct {
	// Root is the directory holding one subdirectory per bucket.
	// Created if missing.
	Root string

	// PublicURL is the base URL under which Handler is reachable,
	// without a trailing slash.
	PublicURL string

	// MasterKey is the 32-byte key the signing key is derived from.
	// It is only read during NewFilesystem.
	MasterKey *secret.Buffer

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewFilesystem creates the store. Close releases the derived key.
func NewFilesystem(cfg FilesystemConfig) (*Filesystem, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("objectstore: Root is required")
	}
	if cfg.MasterKey == nil || cfg.MasterKey.Len() != MasterKeySize {
		return nil, fmt.Errorf("objectstore: MasterKey must be %d bytes", MasterKeySize)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("objectstore: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("objectstore: Logger is required")
	}
	publicURL, err := url.Parse(cfg.PublicURL)
	if err != nil || (publicURL.Scheme != "http" && publicURL.Scheme != "https") || publicURL.Host == "" {
		return nil, fmt.Errorf("objectstore: PublicURL must be an absolute http(s) URL, got %q", cfg.PublicURL)
	}
	if err := os.MkdirAll(cfg.Root, 0o700); err != nil {
		return nil, fmt.Errorf("objectstore: creating root: %w", err)
	}

	signingKey, err := deriveSigningKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}

	return &Filesystem{
		root:       cfg.Root,
		publicURL:  strings.TrimSuffix(cfg.PublicURL, "/"),
		signingKey: signingKey,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}, nil
}

// Close releases the signing key.
func (f *Filesystem) Close() error {
	return f.signingKey.Close()
}

func deriveSigningKey(masterKey *secret.Buffer) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, hkdfInfoURLSigning)
	derived := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("objectstore: deriving signing key: %w", err)
	}
	return secret.NewFromBytes(derived)
}

func (f *Filesystem) objectPath(bucket, key string) string {
	return filepath.Join(f.root, bucket, filepath.FromSlash(key))
}

// Upload implements Store. The object is written to a temporary file
// and renamed into place, so readers never see a partial object.
func (f *Filesystem) Upload(_ context.Context, bucket, key string, data []byte) error {
	if err := validateObject(bucket, key); err != nil {
		return err
	}
	path := f.objectPath(bucket, key)
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("objectstore: creating %s: %w", directory, err)
	}

	temporary, err := os.CreateTemp(directory, ".upload-*")
	if err != nil {
		return fmt.Errorf("objectstore: creating temporary file: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("objectstore: writing %s/%s: %w", bucket, key, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("objectstore: closing %s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("objectstore: committing %s/%s: %w", bucket, key, err)
	}

	f.logger.Debug("object uploaded", "bucket", bucket, "key", key, "size", len(data))
	return nil
}

// Open reads bucket/key.
func (f *Filesystem) Open(bucket, key string) ([]byte, error) {
	if err := validateObject(bucket, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.objectPath(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: reading %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Delete implements Store.
func (f *Filesystem) Delete(_ context.Context, bucket, key string) error {
	if err := validateObject(bucket, key); err != nil {
		return err
	}
	err := os.Remove(f.objectPath(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("objectstore: deleting %s/%s: %w", bucket, key, err)
	}
	return nil
}

// SignedURL implements Store. The URL has the form
// <public_url>/objects/<bucket>/<key>?expires=<unix>&signature=<hex>.
func (f *Filesystem) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if err := validateObject(bucket, key); err != nil {
		return "", err
	}
	if err := checkTTL(ttl); err != nil {
		return "", err
	}
	expires := f.clock.Now().Add(ttl).Unix()

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("signature", hex.EncodeToString(f.sign(bucket, key, expires)))
	return f.publicURL + "/objects/" + bucket + "/" + key + "?" + query.Encode(), nil
}

// Verify checks a signed URL's parameters. The signature is checked
// before the expiry so that a forged URL is never reported as merely
// expired.
func (f *Filesystem) Verify(bucket, key, expiresParam, signatureParam string) error {
	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signature, err := hex.DecodeString(signatureParam)
	if err != nil {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare(signature, f.sign(bucket, key, expires)) != 1 {
		return ErrInvalidSignature
	}
	if !f.clock.Now().Before(time.Unix(expires, 0)) {
		return ErrExpired
	}
	return nil
}

func (f *Filesystem) sign(bucket, key string, expires int64) []byte {
	hasher, err := blake3.NewKeyed(f.signingKey.Bytes())
	if err != nil {
		panic("objectstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(signatureDomainTag)
	hasher.Write([]byte(bucket))
	hasher.Write([]byte{0})
	hasher.Write([]byte(key))
	hasher.Write([]byte{0})
	hasher.Write([]byte(strconv.FormatInt(expires, 10)))
	return hasher.Sum(nil)
}
