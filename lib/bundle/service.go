// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/hatchery/lib/agentconfig"
	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/objectstore"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secret"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
)

// ObjectKey is where a bundle is stored in the agent's bucket. Each
// Create overwrites the previous bundle.
const ObjectKey = "credentials/startup-bundle.enc"

// URLLifetime bounds how long a handoff URL can download the bundle.
const URLLifetime = 10 * time.Minute

// Handoff is what a worker needs to fetch and open its bundle. Key is
// as sensitive as the secrets inside the bundle.
type Handoff struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds a Service's dependencies. All fields are required.
type Config struct {
	Secrets secretstore.Store
	Objects objectstore.Store
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Service creates and removes startup bundles.
type Service struct {
	secrets secretstore.Store
	objects objectstore.Store
	clock   clock.Clock
	logger  *slog.Logger
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Secrets == nil || cfg.Objects == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("bundle: Secrets, Objects, Clock and Logger are required")
	}
	return &Service{
		secrets: cfg.Secrets,
		objects: cfg.Objects,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}, nil
}

// Create builds, encrypts and uploads agentID's startup bundle to
// bucketID and returns the handoff.
//
// Secret resolution never fails the bundle: a placeholder whose secret
// cannot be fetched stays literal in the config and is left out of
// env_vars, and a channel whose credentials cannot be fetched is left
// out of channel_credentials. Only paired channels with a credential
// ref are included. Encryption and upload failures are returned.
func (s *Service) Create(ctx context.Context, agentID, bucketID string, config *hatching.AgentConfig, channels []hatching.ChannelCredential) (*Handoff, error) {
	configJSON, envVars, err := agentconfig.Resolve(ctx, s.secrets, config.Template, config.EnvVarRefs, s.logger)
	if err != nil {
		return nil, fmt.Errorf("bundle: resolving config for %s: %w", agentID, err)
	}

	startup := &hatching.StartupBundle{
		ConfigJSON:         configJSON,
		EnvVars:            envVars,
		ChannelCredentials: s.resolveChannels(ctx, agentID, channels),
	}
	plaintext, err := Marshal(startup)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(plaintext)

	key, err := secret.Random(KeySize)
	if err != nil {
		return nil, fmt.Errorf("bundle: generating key: %w", err)
	}
	defer key.Close()

	blob, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	if err := s.objects.Upload(ctx, bucketID, ObjectKey, blob); err != nil {
		return nil, fmt.Errorf("bundle: uploading for %s: %w", agentID, err)
	}

	expiresAt := s.clock.Now().Add(URLLifetime)
	url, err := s.objects.SignedURL(ctx, bucketID, ObjectKey, URLLifetime)
	if err != nil {
		return nil, fmt.Errorf("bundle: signing URL for %s: %w", agentID, err)
	}

	s.logger.Info("startup bundle created",
		"agent_id", agentID,
		"bucket", bucketID,
		"env_vars", len(envVars),
		"env_var_refs", len(config.EnvVarRefs),
		"channels", len(startup.ChannelCredentials),
		"bytes", len(blob),
	)
	return &Handoff{URL: url, Key: EncodeKey(key), ExpiresAt: expiresAt}, nil
}

// resolveChannels fetches the credentials of every paired channel and
// base64-encodes them for transport.
func (s *Service) resolveChannels(ctx context.Context, agentID string, channels []hatching.ChannelCredential) map[string]string {
	refs := make(map[string]string, len(channels))
	for _, channel := range channels {
		if channel.IsPaired && channel.CredentialsSecretRef != "" {
			refs[string(channel.ChannelType)] = channel.CredentialsSecretRef
		}
	}
	values := agentconfig.ResolveSecrets(ctx, s.secrets, refs, s.logger.With("agent_id", agentID))

	encoded := make(map[string]string, len(values))
	for channel, value := range values {
		encoded[channel] = base64.StdEncoding.EncodeToString([]byte(value))
	}
	return encoded
}

// Cleanup deletes the bundle from bucketID once the worker has booted.
// Failures, including an already deleted bundle, are logged and
// otherwise ignored.
func (s *Service) Cleanup(ctx context.Context, bucketID string) {
	if err := s.objects.Delete(ctx, bucketID, ObjectKey); err != nil {
		s.logger.Debug("startup bundle cleanup failed", "bucket", bucketID, "error", err)
		return
	}
	s.logger.Info("startup bundle deleted", "bucket", bucketID)
}
