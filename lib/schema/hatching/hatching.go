// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hatching

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an agent, step, config, credential or
// template does not exist.
var ErrNotFound = errors.New("hatching: not found")

// StepType identifies a manifest step. Values are persisted and must
// not change.
type StepType string

const (
	StepCredentialLLM     StepType = "credential_llm"
	StepCredentialUtility StepType = "credential_utility"
	StepChannelWhatsApp   StepType = "channel_whatsapp"
	StepChannelTelegram   StepType = "channel_telegram"
	StepChannelDiscord    StepType = "channel_discord"
	StepConfigGateway     StepType = "config_gateway"
	StepConfigWorkspace   StepType = "config_workspace"
)

// IsValid reports whether t is one of the known step types.
func (t StepType) IsValid() bool {
	switch t {
	case StepCredentialLLM, StepCredentialUtility,
		StepChannelWhatsApp, StepChannelTelegram, StepChannelDiscord,
		StepConfigGateway, StepConfigWorkspace:
		return true
	}
	return false
}

// IsInteractive reports whether completing the step needs a live
// pairing session between the operator and the worker. Only channel
// steps are interactive.
func (t StepType) IsInteractive() bool {
	_, ok := t.Channel()
	return ok
}

// Channel returns the channel a channel step pairs.
func (t StepType) Channel() (ChannelType, bool) {
	switch t {
	case StepChannelWhatsApp:
		return ChannelWhatsApp, true
	case StepChannelTelegram:
		return ChannelTelegram, true
	case StepChannelDiscord:
		return ChannelDiscord, true
	}
	return "", false
}

// ChannelType is a messaging channel an agent can be reached on.
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
)

// Channels lists every channel in manifest order.
var Channels = []ChannelType{ChannelWhatsApp, ChannelTelegram, ChannelDiscord}

// IsValid reports whether c is a known channel.
func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelTelegram, ChannelDiscord:
		return true
	}
	return false
}

// StepType returns the manifest step that pairs c.
func (c ChannelType) StepType() StepType {
	return StepType("channel_" + string(c))
}

// StepStatus is the lifecycle state of one manifest step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// IsValid reports whether s is a known step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepSkipped, StepFailed:
		return true
	}
	return false
}

// IsDone reports whether the step counts toward hatching completion.
func (s StepStatus) IsDone() bool {
	return s == StepCompleted || s == StepSkipped
}

// HatchingStatus is an agent's aggregate manifest status.
type HatchingStatus string

const (
	HatchingPending    HatchingStatus = "pending"
	HatchingInProgress HatchingStatus = "in_progress"
	HatchingCompleted  HatchingStatus = "completed"
	HatchingFailed     HatchingStatus = "failed"
)

// ManifestStep is one entry of an agent's hatching checklist. At most
// one step of each type exists per agent.
type ManifestStep struct {
	ID      string   `json:"id"`
	AgentID string   `json:"agent_id"`
	Type    StepType `json:"type"`

	Status StepStatus `json:"status"`

	// Order is the step's position in the checklist, starting at 0.
	Order int `json:"order"`

	// Config carries step parameters set at creation, such as
	// "credential_ids" for credential_llm, "port" for
	// config_gateway and "allow_from" for channel steps.
	Config map[string]any `json:"config"`

	// Result is set when the step completes. Channel steps record
	// the paired "account_id".
	Result map[string]any `json:"result,omitempty"`

	// ErrorMessage is non-empty iff Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	// CompletedAt is set only when Status is completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsInteractive reports whether the step needs a pairing session.
func (s *ManifestStep) IsInteractive() bool {
	return s.Type.IsInteractive()
}

// AgentConfig is an agent's generated configuration. The template
// holds ${NAME} placeholders in place of secrets; EnvVarRefs maps each
// placeholder name to the secret store reference that resolves it.
type AgentConfig struct {
	AgentID string `json:"agent_id"`

	// Template is the worker configuration document. String values
	// may contain ${NAME} placeholders.
	Template map[string]any `json:"template"`

	GatewayPort int `json:"gateway_port"`

	// GatewayAuthTokenRef is the secret ref of the gateway token,
	// also present in EnvVarRefs under OPENCLAW_GATEWAY_TOKEN.
	GatewayAuthTokenRef string `json:"gateway_auth_token_ref"`

	WorkspacePath   string        `json:"workspace_path"`
	EnabledChannels []ChannelType `json:"enabled_channels,omitempty"`

	// EnvVarRefs maps placeholder names to secret refs.
	EnvVarRefs map[string]string `json:"env_var_refs"`

	ModelPrimary string `json:"model_primary"`

	// AllowFrom lists permitted senders per channel. A channel with
	// no entry accepts anyone.
	AllowFrom map[ChannelType][]string `json:"allow_from,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelCredential tracks the pairing state of one channel on one
// agent. The credential bytes themselves live only in the secret
// store under CredentialsSecretRef.
type ChannelCredential struct {
	AgentID     string      `json:"agent_id"`
	ChannelType ChannelType `json:"channel_type"`

	// AccountID is the channel-side account reported by the worker
	// when pairing succeeded.
	AccountID string `json:"account_id,omitempty"`

	CredentialsSecretRef string `json:"credentials_secret_ref,omitempty"`

	IsPaired        bool       `json:"is_paired"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

// WorkerStatus is the lifecycle state of an agent's worker VM.
type WorkerStatus string

const (
	WorkerCreating WorkerStatus = "creating"
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerStopped  WorkerStatus = "stopped"
	WorkerError    WorkerStatus = "error"
)

// IsValid reports whether w is a known worker status.
func (w WorkerStatus) IsValid() bool {
	switch w {
	case WorkerCreating, WorkerStarting, WorkerRunning, WorkerStopped, WorkerError:
		return true
	}
	return false
}

// Agent is one provisioned agent.
type Agent struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	WorkerStatus WorkerStatus `json:"worker_status"`

	// WorkerAddress is the worker's IP address, set once the worker
	// has booted. The gateway listens on WorkerAddress:GatewayPort.
	WorkerAddress string `json:"worker_address,omitempty"`
	GatewayPort   int    `json:"gateway_port"`

	// BucketID names the object store bucket holding the agent's
	// startup bundle.
	BucketID string `json:"bucket_id"`

	HatchingStatus HatchingStatus `json:"hatching_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialPurpose classifies a registered credential.
type CredentialPurpose string

const (
	PurposeLLM     CredentialPurpose = "llm"
	PurposeUtility CredentialPurpose = "utility"
)

// Credential is a user-registered API credential. The value lives in
// the secret store under SecretRef.
type Credential struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`

	// Name is the display name. Placeholder mapping matches
	// provider keywords against it.
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Purpose     CredentialPurpose `json:"purpose"`
	SecretRef   string            `json:"secret_ref"`

	CreatedAt time.Time `json:"created_at"`
}

// StartupBundle is the decrypted payload a worker receives at boot.
// All three fields are always present on the wire.
type StartupBundle struct {
	// ConfigJSON is the resolved configuration document.
	ConfigJSON string `json:"config_json"`

	// EnvVars maps placeholder names to resolved secret values.
	EnvVars map[string]string `json:"env_vars"`

	// ChannelCredentials maps channel names to base64-encoded
	// credential blobs.
	ChannelCredentials map[string]string `json:"channel_credentials"`
}

// Snapshot is a portable copy of an agent's manifest, used to save
// and restore templates. Field order in Steps is manifest order.
type Snapshot struct {
	AgentID string         `json:"agent_id" cbor:"agent_id"`
	Steps   []SnapshotStep `json:"steps" cbor:"steps"`
}

// SnapshotStep is one step of a Snapshot.
type SnapshotStep struct {
	Type         StepType       `json:"type" cbor:"type"`
	Status       StepStatus     `json:"status" cbor:"status"`
	Order        int            `json:"order" cbor:"order"`
	Config       map[string]any `json:"config,omitempty" cbor:"config,omitempty"`
	Result       map[string]any `json:"result,omitempty" cbor:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty" cbor:"error_message,omitempty"`

	// CompletedAt is RFC 3339 with nanoseconds, empty unless the
	// step was completed.
	CompletedAt string `json:"completed_at,omitempty" cbor:"completed_at,omitempty"`
}

// Progress summarizes how far an agent is through hatching.
type Progress struct {
	AgentID string         `json:"agent_id"`
	Status  HatchingStatus `json:"status"`
	Steps   []ManifestStep `json:"steps"`

	// Done counts completed and skipped steps.
	Done  int `json:"done"`
	Total int `json:"total"`

	// PendingInteractive lists channel steps still waiting for a
	// pairing session.
	PendingInteractive []ManifestStep `json:"pending_interactive,omitempty"`
}
