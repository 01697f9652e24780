// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentconfig

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secret"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
)

// gatewayTokenBytes is the entropy of a generated gateway token.
const gatewayTokenBytes = 32

// CredentialLookup finds registered credentials.
type CredentialLookup interface {
	// GetCredentials returns owner's credentials with the given ids.
	// Unknown ids are omitted.
	GetCredentials(ctx context.Context, owner string, ids []string) ([]hatching.Credential, error)
}

// ChannelSpec enables one channel on an agent.
type ChannelSpec struct {
	Type hatching.ChannelType

	// AllowFrom lists permitted senders. Empty allows everyone.
	AllowFrom []string
}

// Request describes the agent to generate a config for.
type Request struct {
	// AgentID must be at least 8 characters; its first 8 name the
	// gateway token secret.
	AgentID string
	UserID  string

	GatewayPort   int
	ModelPrimary  string
	WorkspacePath string

	// Channels lists enabled channels. Each channel may appear once.
	Channels []ChannelSpec
}

// Validate checks the request.
func (r *Request) Validate() error {
	if len(r.AgentID) < 8 {
		return fmt.Errorf("agentconfig: agent id %q is shorter than 8 characters", r.AgentID)
	}
	if r.UserID == "" {
		return fmt.Errorf("agentconfig: user id is required")
	}
	if r.GatewayPort < 1 || r.GatewayPort > 65535 {
		return fmt.Errorf("agentconfig: gateway port %d out of range", r.GatewayPort)
	}
	if r.ModelPrimary == "" {
		return fmt.Errorf("agentconfig: primary model is required")
	}
	if r.WorkspacePath == "" {
		return fmt.Errorf("agentconfig: workspace path is required")
	}
	seen := make(map[hatching.ChannelType]bool, len(r.Channels))
	for _, channel := range r.Channels {
		if !channel.Type.IsValid() {
			return fmt.Errorf("agentconfig: unknown channel %q", channel.Type)
		}
		if seen[channel.Type] {
			return fmt.Errorf("agentconfig: channel %s listed twice", channel.Type)
		}
		seen[channel.Type] = true
	}
	return nil
}

// GatewayTokenSecretName is the secret name of an agent's gateway
// token.
func GatewayTokenSecretName(agentID string) string {
	return "agent-" + agentID[:8] + "-gateway-token"
}

// Generator builds agent configs and manifests.
type Generator struct {
	secrets     secretstore.Store
	credentials CredentialLookup
	clock       clock.Clock
	logger      *slog.Logger
}

// GeneratorConfig holds a Generator's dependencies. All are required.
type GeneratorConfig struct {
	// Secrets receives generated gateway tokens and resolves
	// placeholders.
	Secrets     secretstore.Store
	Credentials CredentialLookup
	Clock       clock.Clock
	Logger      *slog.Logger
}

// NewGenerator returns a Generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Secrets == nil || cfg.Credentials == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("agentconfig: Secrets, Credentials, Clock and Logger are required")
	}
	return &Generator{
		secrets:     cfg.Secrets,
		credentials: cfg.Credentials,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}, nil
}

// GenerateConfig builds the config template and placeholder map for
// request. A fresh gateway token is generated and stored on every
// call, replacing any previous token for the agent.
func (g *Generator) GenerateConfig(ctx context.Context, request Request, credentialIDs []string) (*hatching.AgentConfig, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	envVarRefs := make(map[string]string)
	if len(credentialIDs) > 0 {
		credentials, err := g.credentials.GetCredentials(ctx, request.UserID, credentialIDs)
		if err != nil {
			return nil, fmt.Errorf("agentconfig: looking up credentials: %w", err)
		}
		for _, credential := range credentials {
			placeholder, ok := PlaceholderFor(credential)
			if !ok {
				g.logger.Info("credential has no config placeholder",
					"agent_id", request.AgentID, "credential_id", credential.ID)
				continue
			}
			envVarRefs[placeholder] = credential.SecretRef
		}
	}

	tokenRef, err := g.storeGatewayToken(ctx, request)
	if err != nil {
		return nil, err
	}
	envVarRefs[GatewayTokenPlaceholder] = tokenRef

	config := &hatching.AgentConfig{
		AgentID:             request.AgentID,
		Template:            buildTemplate(request, envVarRefs),
		GatewayPort:         request.GatewayPort,
		GatewayAuthTokenRef: tokenRef,
		WorkspacePath:       request.WorkspacePath,
		EnvVarRefs:          envVarRefs,
		ModelPrimary:        request.ModelPrimary,
	}
	for _, channel := range request.Channels {
		config.EnabledChannels = append(config.EnabledChannels, channel.Type)
		if len(channel.AllowFrom) > 0 {
			if config.AllowFrom == nil {
				config.AllowFrom = make(map[hatching.ChannelType][]string)
			}
			config.AllowFrom[channel.Type] = slices.Clone(channel.AllowFrom)
		}
	}

	g.logger.Info("agent config generated",
		"agent_id", request.AgentID,
		"placeholders", len(envVarRefs),
		"channels", len(request.Channels),
	)
	return config, nil
}

func (g *Generator) storeGatewayToken(ctx context.Context, request Request) (string, error) {
	raw, err := secret.Random(gatewayTokenBytes)
	if err != nil {
		return "", fmt.Errorf("agentconfig: generating gateway token: %w", err)
	}
	defer raw.Close()

	token := []byte(base64.RawURLEncoding.EncodeToString(raw.Bytes()))
	defer secret.Zero(token)

	ref, err := g.secrets.Put(ctx, request.UserID, GatewayTokenSecretName(request.AgentID), token)
	if err != nil {
		return "", fmt.Errorf("agentconfig: storing gateway token: %w", err)
	}
	return ref, nil
}

func buildTemplate(request Request, envVarRefs map[string]string) map[string]any {
	env := make(map[string]any, len(envVarRefs))
	for name := range envVarRefs {
		if name != GatewayTokenPlaceholder {
			env[name] = "${" + name + "}"
		}
	}

	template := map[string]any{
		"gateway": map[string]any{
			"port": request.GatewayPort,
			"auth": map[string]any{
				"mode":  "token",
				"token": "${" + GatewayTokenPlaceholder + "}",
			},
		},
		"agents": map[string]any{
			"defaults": map[string]any{
				"model":     map[string]any{"primary": request.ModelPrimary},
				"workspace": request.WorkspacePath,
			},
		},
		"env": env,
	}

	if len(request.Channels) > 0 {
		channels := make(map[string]any, len(request.Channels))
		for _, channel := range request.Channels {
			allowFrom := channel.AllowFrom
			if len(allowFrom) == 0 {
				allowFrom = []string{"*"}
			}
			channels[string(channel.Type)] = map[string]any{"allowFrom": slices.Clone(allowFrom)}
		}
		template["channels"] = channels
	}
	return template
}

// ResolveConfig renders template with every resolvable placeholder
// substituted. Unresolvable placeholders stay literal.
func (g *Generator) ResolveConfig(ctx context.Context, template map[string]any, envVarRefs map[string]string) (string, error) {
	text, _, err := Resolve(ctx, g.secrets, template, envVarRefs, g.logger)
	return text, err
}

// ManifestSteps returns the initial manifest for request:
// credential_llm (completed iff credentials were supplied),
// config_gateway (always completed), then one pending step per
// enabled channel in request order. Orders start at 0.
func (g *Generator) ManifestSteps(request Request, credentialIDs []string) []hatching.ManifestStep {
	completedAt := g.clock.Now()
	steps := make([]hatching.ManifestStep, 0, 2+len(request.Channels))

	credentialStep := hatching.ManifestStep{
		Type:   hatching.StepCredentialLLM,
		Status: hatching.StepPending,
		Config: map[string]any{"credential_ids": stringList(credentialIDs)},
	}
	if len(credentialIDs) > 0 {
		credentialStep.Status = hatching.StepCompleted
		credentialStep.CompletedAt = &completedAt
	}
	steps = append(steps, credentialStep)

	steps = append(steps, hatching.ManifestStep{
		Type:        hatching.StepConfigGateway,
		Status:      hatching.StepCompleted,
		Config:      map[string]any{"port": request.GatewayPort},
		CompletedAt: &completedAt,
	})

	for _, channel := range request.Channels {
		steps = append(steps, hatching.ManifestStep{
			Type:   channel.Type.StepType(),
			Status: hatching.StepPending,
			Config: map[string]any{"allow_from": stringList(channel.AllowFrom)},
		})
	}

	for i := range steps {
		steps[i].ID = uuid.NewString()
		steps[i].AgentID = request.AgentID
		steps[i].Order = i
	}
	return steps
}

// HasInteractiveSteps reports whether request enables any channel.
func (g *Generator) HasInteractiveSteps(request Request) bool {
	return len(request.Channels) > 0
}

// stringList converts to []any so the value has the same shape
// before and after a storage round trip.
func stringList(values []string) []any {
	list := make([]any, len(values))
	for i, value := range values {
		list[i] = value
	}
	return list
}
