// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bureau-foundation/hatchery/lib/agentconfig"
	"github.com/bureau-foundation/hatchery/lib/agentstore"
	"github.com/bureau-foundation/hatchery/lib/bundle"
	"github.com/bureau-foundation/hatchery/lib/manifest"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
)

// Config holds a Service's dependencies. All fields are required.
type Config struct {
	Store     *agentstore.Store
	Secrets   secretstore.Store
	Manifest  *manifest.Service
	Generator *agentconfig.Generator
	Bundles   *bundle.Service
	Logger    *slog.Logger
}

// Service is the agent lifecycle API.
type Service struct {
	store     *agentstore.Store
	secrets   secretstore.Store
	manifest  *manifest.Service
	generator *agentconfig.Generator
	bundles   *bundle.Service
	logger    *slog.Logger
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Secrets == nil || cfg.Manifest == nil || cfg.Generator == nil ||
		cfg.Bundles == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("hatch: Store, Secrets, Manifest, Generator, Bundles and Logger are required")
	}
	return &Service{
		store:     cfg.Store,
		secrets:   cfg.Secrets,
		manifest:  cfg.Manifest,
		generator: cfg.Generator,
		bundles:   cfg.Bundles,
		logger:    cfg.Logger,
	}, nil
}

// CreateRequest describes a new agent.
type CreateRequest struct {
	UserID string
	Name   string

	GatewayPort   int
	ModelPrimary  string
	WorkspacePath string
	Channels      []agentconfig.ChannelSpec

	// CredentialIDs selects registered credentials of UserID to
	// expose to the agent.
	CredentialIDs []string

	// FromTemplate, when set, names a saved template whose manifest
	// replaces the generated one.
	FromTemplate string
}

// Created is the result of CreateAgent.
type Created struct {
	Agent  *hatching.Agent
	Config *hatching.AgentConfig
	Steps  []hatching.ManifestStep

	// NeedsInteraction is true while channel steps wait for pairing.
	NeedsInteraction bool
}

// BucketID is the object store bucket of an agent's startup bundle.
func BucketID(agentID string) string {
	return "agent-" + agentID
}

// ChannelSecretName is the secret name holding an agent's credentials
// for channel.
func ChannelSecretName(agentID string, channel hatching.ChannelType) string {
	return "agent-" + agentID[:8] + "-" + string(channel)
}

// CreateAgent allocates an id, generates and stores the agent's
// config, creates its manifest and an unpaired credential record for
// every channel the manifest enables. A failure after the agent row
// is written removes the partial agent again.
func (s *Service) CreateAgent(ctx context.Context, request CreateRequest) (*Created, error) {
	if request.Name == "" {
		return nil, fmt.Errorf("hatch: agent name is required")
	}
	configRequest := agentconfig.Request{
		AgentID:       uuid.NewString(),
		UserID:        request.UserID,
		GatewayPort:   request.GatewayPort,
		ModelPrimary:  request.ModelPrimary,
		WorkspacePath: request.WorkspacePath,
		Channels:      request.Channels,
	}
	if err := configRequest.Validate(); err != nil {
		return nil, err
	}

	var snapshot *hatching.Snapshot
	if request.FromTemplate != "" {
		var err error
		snapshot, err = s.store.GetTemplate(ctx, request.FromTemplate)
		if err != nil {
			return nil, fmt.Errorf("hatch: %w", err)
		}
		if err := manifest.ValidateSnapshot(snapshot); err != nil {
			return nil, fmt.Errorf("hatch: template %s: %w", request.FromTemplate, err)
		}
	}

	agent := &hatching.Agent{
		ID:             configRequest.AgentID,
		UserID:         request.UserID,
		Name:           request.Name,
		WorkerStatus:   hatching.WorkerCreating,
		GatewayPort:    request.GatewayPort,
		BucketID:       BucketID(configRequest.AgentID),
		HatchingStatus: hatching.HatchingPending,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}

	created, err := s.populate(ctx, agent, configRequest, request.CredentialIDs, snapshot)
	if err != nil {
		s.rollback(context.WithoutCancel(ctx), agent)
		return nil, err
	}

	s.logger.Info("agent created",
		"agent_id", agent.ID,
		"user_id", agent.UserID,
		"steps", len(created.Steps),
		"hatching_status", agent.HatchingStatus,
		"template", request.FromTemplate,
	)
	return created, nil
}

// rollback removes a partially created agent and the gateway token
// generated for it. No channel secret exists yet at this point.
func (s *Service) rollback(ctx context.Context, agent *hatching.Agent) {
	if err := s.store.DeleteAgent(ctx, agent.ID); err != nil {
		s.logger.Error("removing partially created agent", "agent_id", agent.ID, "error", err)
	}
	tokenRef := secretstore.Ref(agent.UserID, agentconfig.GatewayTokenSecretName(agent.ID))
	if err := s.secrets.Delete(ctx, tokenRef); err != nil && !errors.Is(err, secretstore.ErrNotFound) {
		s.logger.Error("removing gateway token of partially created agent", "agent_id", agent.ID, "error", err)
	}
}

func (s *Service) populate(ctx context.Context, agent *hatching.Agent, request agentconfig.Request, credentialIDs []string, snapshot *hatching.Snapshot) (*Created, error) {
	config, err := s.generator.GenerateConfig(ctx, request, credentialIDs)
	if err != nil {
		return nil, fmt.Errorf("hatch: generating config: %w", err)
	}
	if err := s.store.PutAgentConfig(ctx, config); err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}

	var steps []hatching.ManifestStep
	if snapshot != nil {
		steps, err = s.manifest.RestoreFromSnapshot(ctx, agent.ID, snapshot)
	} else {
		steps = s.generator.ManifestSteps(request, credentialIDs)
		_, err = s.manifest.CreateManifest(ctx, agent.ID, steps)
	}
	if err != nil {
		return nil, fmt.Errorf("hatch: creating manifest: %w", err)
	}

	for _, step := range steps {
		channel, ok := step.Type.Channel()
		if !ok {
			continue
		}
		ref := secretstore.Ref(agent.UserID, ChannelSecretName(agent.ID, channel))
		if err := s.store.EnsureChannelCredential(ctx, agent.ID, channel, ref); err != nil {
			return nil, fmt.Errorf("hatch: %w", err)
		}
	}

	progress, err := s.manifest.Progress(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}
	agent.HatchingStatus = progress.Status
	return &Created{
		Agent:            agent,
		Config:           config,
		Steps:            progress.Steps,
		NeedsInteraction: len(progress.PendingInteractive) > 0,
	}, nil
}

// SetWorker records the worker's lifecycle state and address.
func (s *Service) SetWorker(ctx context.Context, agentID string, status hatching.WorkerStatus, address string) error {
	if !status.IsValid() {
		return fmt.Errorf("hatch: unknown worker status %q", status)
	}
	if err := s.store.SetWorker(ctx, agentID, status, address); err != nil {
		return fmt.Errorf("hatch: %w", err)
	}
	s.logger.Info("worker state recorded", "agent_id", agentID, "worker_status", status)
	return nil
}

// IssueBundle builds and uploads a fresh startup bundle for the agent
// and returns the handoff for its boot script.
func (s *Service) IssueBundle(ctx context.Context, agentID string) (*bundle.Handoff, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}
	config, err := s.store.GetAgentConfig(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}
	channels, err := s.store.ListChannelCredentials(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}
	return s.bundles.Create(ctx, agent.ID, agent.BucketID, config, channels)
}

// CleanupBundle removes the agent's startup bundle. A bundle that is
// already gone is not an error.
func (s *Service) CleanupBundle(ctx context.Context, agentID string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("hatch: %w", err)
	}
	s.bundles.Cleanup(ctx, agent.BucketID)
	return nil
}

// StoreChannelCredentials saves the credentials a worker reported for
// channel and points the channel record at them. Pairing state is not
// changed.
func (s *Service) StoreChannelCredentials(ctx context.Context, agentID string, channel hatching.ChannelType, credentials []byte) error {
	if !channel.IsValid() {
		return fmt.Errorf("hatch: unknown channel %q", channel)
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("hatch: %w", err)
	}
	ref, err := s.secrets.Put(ctx, agent.UserID, ChannelSecretName(agent.ID, channel), credentials)
	if err != nil {
		return fmt.Errorf("hatch: storing %s credentials for %s: %w", channel, agentID, err)
	}
	if err := s.store.EnsureChannelCredential(ctx, agentID, channel, ref); err != nil {
		return fmt.Errorf("hatch: %w", err)
	}
	s.logger.Info("channel credentials stored", "agent_id", agentID, "channel", channel)
	return nil
}

// SaveTemplate archives the agent's current manifest under name.
func (s *Service) SaveTemplate(ctx context.Context, agentID, name string, replace bool) (*hatching.Snapshot, error) {
	if name == "" {
		return nil, fmt.Errorf("hatch: template name is required")
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}
	snapshot, err := s.manifest.GetManifestSnapshot(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("hatch: %w", err)
	}
	if err := s.ImportTemplate(ctx, name, agent.UserID, snapshot, replace); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ImportTemplate validates snapshot and stores it under name.
func (s *Service) ImportTemplate(ctx context.Context, name, owner string, snapshot *hatching.Snapshot, replace bool) error {
	if err := manifest.ValidateSnapshot(snapshot); err != nil {
		return fmt.Errorf("hatch: template %s: %w", name, err)
	}
	if err := s.store.SaveTemplate(ctx, name, owner, snapshot, replace); err != nil {
		return fmt.Errorf("hatch: %w", err)
	}
	s.logger.Info("template saved", "template", name, "agent_id", snapshot.AgentID, "steps", len(snapshot.Steps))
	return nil
}

// DeleteAgent removes the agent with its config, manifest, channel
// records, gateway token, channel secrets and any startup bundle.
// Secrets that are already gone are skipped.
func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("hatch: %w", err)
	}
	channels, err := s.store.ListChannelCredentials(ctx, agentID)
	if err != nil {
		return fmt.Errorf("hatch: %w", err)
	}

	refs := []string{secretstore.Ref(agent.UserID, agentconfig.GatewayTokenSecretName(agent.ID))}
	for _, channel := range channels {
		if channel.CredentialsSecretRef != "" {
			refs = append(refs, channel.CredentialsSecretRef)
		}
	}
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return fmt.Errorf("hatch: %w", err)
	}

	for _, ref := range refs {
		err := s.secrets.Delete(ctx, ref)
		if err != nil && !errors.Is(err, secretstore.ErrNotFound) {
			s.logger.Warn("deleting agent secret", "agent_id", agentID, "error", err)
		}
	}
	s.bundles.Cleanup(ctx, agent.BucketID)

	s.logger.Info("agent deleted", "agent_id", agentID)
	return nil
}
