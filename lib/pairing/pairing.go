// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/manifest"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/workerapi"
)

// PollInterval is the default time between worker polls.
const PollInterval = 2 * time.Second

var (
	// ErrSessionActive is returned by Watch when the channel is
	// already being watched.
	ErrSessionActive = errors.New("pairing: a pairing session is already active for this channel")

	// ErrWorkerNotRunning is returned when the agent's worker is not
	// in the running state.
	ErrWorkerNotRunning = errors.New("pairing: worker is not running")

	// ErrChannelNotEnabled is returned when the agent's manifest has
	// no step for the channel.
	ErrChannelNotEnabled = errors.New("pairing: channel is not enabled for this agent")

	// ErrAlreadyPaired is returned when the channel step is already
	// completed.
	ErrAlreadyPaired = errors.New("pairing: channel is already paired")

	// ErrNotStarted is returned by Watch when the channel step is not
	// in progress.
	ErrNotStarted = errors.New("pairing: pairing has not been started")
)

// EventType discriminates Event.
type EventType string

const (
	EventCode   EventType = "code"
	EventPaired EventType = "paired"
	EventPing   EventType = "ping"
	EventError  EventType = "error"
)

// Event is one message to a pairing observer.
type Event struct {
	Type    EventType            `json:"type"`
	Channel hatching.ChannelType `json:"channel"`

	// Code and ExpiresAt are set on code events.
	Code      string `json:"code,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`

	// AccountID is set on paired events.
	AccountID string `json:"account_id,omitempty"`

	// Message is set on error events.
	Message string `json:"message,omitempty"`
}

// Worker is the channel API of one agent's worker.
type Worker interface {
	BeginPairing(ctx context.Context, channel hatching.ChannelType) error
	PairingStatus(ctx context.Context, channel hatching.ChannelType) (*workerapi.PairingStatus, error)
	PairingCode(ctx context.Context, channel hatching.ChannelType) (*workerapi.PairingCode, error)
}

// Connector returns the Worker for an agent.
type Connector func(agent *hatching.Agent) (Worker, error)

// Agents reads agents and records channel pairing state.
type Agents interface {
	GetAgent(ctx context.Context, id string) (*hatching.Agent, error)
	MarkChannelPaired(ctx context.Context, agentID string, channel hatching.ChannelType, accountID string, at time.Time) error
	MarkChannelDisconnected(ctx context.Context, agentID string, channel hatching.ChannelType) error
}

// Steps is the subset of the manifest service pairing drives.
type Steps interface {
	GetStepByType(ctx context.Context, agentID string, stepType hatching.StepType) (*hatching.ManifestStep, error)
	StartStep(ctx context.Context, agentID, stepID string) (*manifest.StepUpdate, error)
	CompleteStep(ctx context.Context, agentID, stepID string, result map[string]any) (*manifest.StepUpdate, error)
	ResetStep(ctx context.Context, agentID, stepID string) (*manifest.StepUpdate, error)
}

// Config holds a Coordinator's dependencies.
type Config struct {
	Agents  Agents
	Steps   Steps
	Connect Connector
	Clock   clock.Clock
	Logger  *slog.Logger

	// PollInterval defaults to the package PollInterval.
	PollInterval time.Duration
}

// Coordinator runs pairing attempts. It is safe for concurrent use.
type Coordinator struct {
	agents       Agents
	steps        Steps
	connect      Connector
	clock        clock.Clock
	logger       *slog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	agentID string
	channel hatching.ChannelType
}

// New returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Agents == nil || cfg.Steps == nil || cfg.Connect == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("pairing: Agents, Steps, Connect, Clock and Logger are required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = PollInterval
	}
	return &Coordinator{
		agents:       cfg.Agents,
		steps:        cfg.Steps,
		connect:      cfg.Connect,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		pollInterval: interval,
		sessions:     make(map[sessionKey]*Session),
	}, nil
}

// target loads the agent and its channel step and checks the
// preconditions shared by Start and Watch.
func (c *Coordinator) target(ctx context.Context, agentID string, channel hatching.ChannelType) (*hatching.Agent, *hatching.ManifestStep, error) {
	if !channel.IsValid() {
		return nil, nil, fmt.Errorf("pairing: unknown channel %q", channel)
	}
	agent, err := c.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: %w", err)
	}
	if agent.WorkerStatus != hatching.WorkerRunning {
		return nil, nil, fmt.Errorf("%w: agent %s worker is %s", ErrWorkerNotRunning, agentID, agent.WorkerStatus)
	}
	step, err := c.steps.GetStepByType(ctx, agentID, channel.StepType())
	if errors.Is(err, hatching.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s on agent %s", ErrChannelNotEnabled, channel, agentID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: %w", err)
	}
	if step.Status == hatching.StepCompleted {
		return nil, nil, fmt.Errorf("%w: %s on agent %s", ErrAlreadyPaired, channel, agentID)
	}
	return agent, step, nil
}

// Start moves the channel step to in_progress and asks the worker to
// begin pairing. If the worker refuses, the step is returned to
// pending and the worker's error is returned.
func (c *Coordinator) Start(ctx context.Context, agentID string, channel hatching.ChannelType) (*manifest.StepUpdate, error) {
	agent, step, err := c.target(ctx, agentID, channel)
	if err != nil {
		return nil, err
	}
	worker, err := c.connect(agent)
	if err != nil {
		return nil, fmt.Errorf("pairing: connecting to worker of %s: %w", agentID, err)
	}

	update, err := c.steps.StartStep(ctx, agentID, step.ID)
	if err != nil {
		return nil, fmt.Errorf("pairing: %w", err)
	}
	if err := worker.BeginPairing(ctx, channel); err != nil {
		if _, resetErr := c.steps.ResetStep(context.WithoutCancel(ctx), agentID, step.ID); resetErr != nil {
			c.logger.Error("resetting step after failed pairing start",
				"agent_id", agentID, "channel", channel, "error", resetErr)
		}
		return nil, fmt.Errorf("pairing: worker rejected pairing start: %w", err)
	}

	c.logger.Info("pairing started", "agent_id", agentID, "channel", channel, "step_id", step.ID)
	return update, nil
}

// Session is one running watch.
type Session struct {
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
}

// Events delivers the session's events. It is closed when the session
// ends: after a paired event, when the watch context is cancelled, or
// when the pairing is cancelled.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop ends the session without touching the step, as when the
// observer goes away, and waits for the poll loop to exit.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Watch starts polling the worker for a started pairing and returns
// the session delivering events. Cancelling ctx ends the session and
// leaves the step in progress, so a new observer can watch again.
func (c *Coordinator) Watch(ctx context.Context, agentID string, channel hatching.ChannelType) (*Session, error) {
	agent, step, err := c.target(ctx, agentID, channel)
	if err != nil {
		return nil, err
	}
	if step.Status != hatching.StepInProgress {
		return nil, fmt.Errorf("%w: %s on agent %s is %s", ErrNotStarted, channel, agentID, step.Status)
	}
	worker, err := c.connect(agent)
	if err != nil {
		return nil, fmt.Errorf("pairing: connecting to worker of %s: %w", agentID, err)
	}

	key := sessionKey{agentID: agentID, channel: channel}
	session := &Session{
		events: make(chan Event),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if _, active := c.sessions[key]; active {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s on agent %s", ErrSessionActive, channel, agentID)
	}
	c.sessions[key] = session
	c.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-session.stop:
		case <-session.done:
		}
		cancel()
	}()

	poll := &poller{
		coordinator: c,
		session:     session,
		worker:      worker,
		agentID:     agentID,
		channel:     channel,
		stepID:      step.ID,
		logger:      c.logger.With("agent_id", agentID, "channel", channel),
	}
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.sessions, key)
			c.mu.Unlock()
			close(session.events)
			close(session.done)
		}()
		poll.run(loopCtx)
	}()

	c.logger.Info("pairing watch started", "agent_id", agentID, "channel", channel)
	return session, nil
}

// Cancel abandons a pairing: any watch is stopped, and once it has
// exited the step is returned to pending. No event is delivered after
// Cancel returns.
func (c *Coordinator) Cancel(ctx context.Context, agentID string, channel hatching.ChannelType) (*manifest.StepUpdate, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("pairing: unknown channel %q", channel)
	}
	c.stopSession(agentID, channel)

	step, err := c.steps.GetStepByType(ctx, agentID, channel.StepType())
	if errors.Is(err, hatching.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s on agent %s", ErrChannelNotEnabled, channel, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("pairing: %w", err)
	}
	update, err := c.steps.ResetStep(ctx, agentID, step.ID)
	if err != nil {
		return nil, fmt.Errorf("pairing: cancelling %s on agent %s: %w", channel, agentID, err)
	}
	c.logger.Info("pairing cancelled", "agent_id", agentID, "channel", channel)
	return update, nil
}

// Disconnect stops any watch and marks the channel credential
// unpaired. The manifest step is left as is.
func (c *Coordinator) Disconnect(ctx context.Context, agentID string, channel hatching.ChannelType) error {
	if !channel.IsValid() {
		return fmt.Errorf("pairing: unknown channel %q", channel)
	}
	c.stopSession(agentID, channel)
	if err := c.agents.MarkChannelDisconnected(ctx, agentID, channel); err != nil {
		return fmt.Errorf("pairing: disconnecting %s on agent %s: %w", channel, agentID, err)
	}
	c.logger.Info("channel disconnected", "agent_id", agentID, "channel", channel)
	return nil
}

// Active reports whether a watch is running for the channel.
func (c *Coordinator) Active(agentID string, channel hatching.ChannelType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, active := c.sessions[sessionKey{agentID: agentID, channel: channel}]
	return active
}

func (c *Coordinator) stopSession(agentID string, channel hatching.ChannelType) {
	c.mu.Lock()
	session := c.sessions[sessionKey{agentID: agentID, channel: channel}]
	c.mu.Unlock()
	if session != nil {
		session.Stop()
	}
}
