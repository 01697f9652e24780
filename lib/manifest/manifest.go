// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

var (
	// ErrInvalidTransition is returned when a step cannot move from
	// its current status to the requested one.
	ErrInvalidTransition = errors.New("manifest: invalid step transition")

	// ErrDuplicateStep is returned when a manifest would hold two
	// steps of the same type.
	ErrDuplicateStep = errors.New("manifest: duplicate step type")
)

// Store persists agents and their manifests. Methods taking a
// HatchingStatus write it to the agent in the same transaction as the
// steps. Missing agents and steps are reported as
// hatching.ErrNotFound.
type Store interface {
	GetAgent(ctx context.Context, id string) (*hatching.Agent, error)
	ListSteps(ctx context.Context, agentID string) ([]hatching.ManifestStep, error)
	InsertSteps(ctx context.Context, agentID string, steps []hatching.ManifestStep, status hatching.HatchingStatus) error
	ReplaceSteps(ctx context.Context, agentID string, steps []hatching.ManifestStep, status hatching.HatchingStatus) error
	SaveStep(ctx context.Context, step *hatching.ManifestStep, status hatching.HatchingStatus) error
	SetHatchingStatus(ctx context.Context, id string, status hatching.HatchingStatus) error
}

// Config holds a Service's dependencies. All fields are required.
type Config struct {
	Store  Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Service manages manifests. It is safe for concurrent use; mutations
// of one agent's manifest are serialized.
type Service struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	locks agentLocks
}

// StepUpdate is the outcome of a step transition.
type StepUpdate struct {
	Step     hatching.ManifestStep
	Hatching hatching.HatchingStatus
}

// New returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("manifest: Store, Clock and Logger are required")
	}
	return &Service{
		store:  cfg.Store,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		locks:  agentLocks{held: make(map[string]*agentLock)},
	}, nil
}

// Aggregate derives the hatching status of a manifest. It depends only
// on the multiset of step statuses. An empty manifest is completed.
func Aggregate(steps []hatching.ManifestStep) hatching.HatchingStatus {
	var failed, open, inProgress bool
	for _, step := range steps {
		switch step.Status {
		case hatching.StepFailed:
			failed = true
		case hatching.StepInProgress:
			inProgress = true
			open = true
		case hatching.StepPending:
			open = true
		}
	}
	switch {
	case failed:
		return hatching.HatchingFailed
	case !open:
		return hatching.HatchingCompleted
	case inProgress:
		return hatching.HatchingInProgress
	default:
		return hatching.HatchingPending
	}
}

// CreateManifest adds steps to agentID's manifest and stores the
// resulting aggregate. Step ids must be set; AgentID is filled in.
// Only pending, completed and skipped steps can be created.
func (s *Service) CreateManifest(ctx context.Context, agentID string, steps []hatching.ManifestStep) (hatching.HatchingStatus, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	existing, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return "", err
	}

	seen := make(map[hatching.StepType]bool, len(existing)+len(steps))
	for _, step := range existing {
		seen[step.Type] = true
	}
	for i := range steps {
		step := &steps[i]
		if err := validateNewStep(step); err != nil {
			return "", err
		}
		if seen[step.Type] {
			return "", fmt.Errorf("%w: %s on agent %s", ErrDuplicateStep, step.Type, agentID)
		}
		seen[step.Type] = true
		step.AgentID = agentID
	}

	status := Aggregate(append(existing, steps...))
	if err := s.store.InsertSteps(ctx, agentID, steps, status); err != nil {
		return "", fmt.Errorf("manifest: creating manifest for %s: %w", agentID, err)
	}
	s.logger.Info("manifest created", "agent_id", agentID, "steps", len(steps), "hatching_status", status)
	return status, nil
}

func validateNewStep(step *hatching.ManifestStep) error {
	if step.ID == "" {
		return fmt.Errorf("manifest: step of type %s has no id", step.Type)
	}
	if !step.Type.IsValid() {
		return fmt.Errorf("manifest: unknown step type %q", step.Type)
	}
	switch step.Status {
	case hatching.StepPending, hatching.StepSkipped:
		step.CompletedAt = nil
	case hatching.StepCompleted:
		if step.CompletedAt == nil {
			return fmt.Errorf("manifest: completed step %s has no completion time", step.Type)
		}
	default:
		return fmt.Errorf("%w: cannot create %s step %s", ErrInvalidTransition, step.Status, step.Type)
	}
	step.ErrorMessage = ""
	return nil
}

// GetAllSteps returns agentID's manifest in order.
func (s *Service) GetAllSteps(ctx context.Context, agentID string) ([]hatching.ManifestStep, error) {
	return s.loadSteps(ctx, agentID)
}

// GetPendingSteps returns agentID's pending steps in order.
func (s *Service) GetPendingSteps(ctx context.Context, agentID string) ([]hatching.ManifestStep, error) {
	return s.filterSteps(ctx, agentID, func(step *hatching.ManifestStep) bool {
		return step.Status == hatching.StepPending
	})
}

// GetInteractivePendingSteps returns agentID's pending channel steps
// in order.
func (s *Service) GetInteractivePendingSteps(ctx context.Context, agentID string) ([]hatching.ManifestStep, error) {
	return s.filterSteps(ctx, agentID, func(step *hatching.ManifestStep) bool {
		return step.Status == hatching.StepPending && step.IsInteractive()
	})
}

// GetStepByType returns agentID's step of the given type. A manifest
// without such a step returns hatching.ErrNotFound.
func (s *Service) GetStepByType(ctx context.Context, agentID string, stepType hatching.StepType) (*hatching.ManifestStep, error) {
	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for i := range steps {
		if steps[i].Type == stepType {
			return &steps[i], nil
		}
	}
	return nil, fmt.Errorf("manifest: no %s step on agent %s: %w", stepType, agentID, hatching.ErrNotFound)
}

func (s *Service) filterSteps(ctx context.Context, agentID string, keep func(*hatching.ManifestStep) bool) ([]hatching.ManifestStep, error) {
	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return nil, err
	}
	filtered := steps[:0]
	for i := range steps {
		if keep(&steps[i]) {
			filtered = append(filtered, steps[i])
		}
	}
	return filtered, nil
}

// loadSteps returns agentID's steps, failing with
// hatching.ErrNotFound when the agent does not exist.
func (s *Service) loadSteps(ctx context.Context, agentID string) ([]hatching.ManifestStep, error) {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	steps, err := s.store.ListSteps(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return steps, nil
}

// IsHatchingComplete reports whether no step of agentID is pending or
// in progress.
func (s *Service) IsHatchingComplete(ctx context.Context, agentID string) (bool, error) {
	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return false, err
	}
	for _, step := range steps {
		if step.Status == hatching.StepPending || step.Status == hatching.StepInProgress {
			return false, nil
		}
	}
	return true, nil
}

// UpdateAgentHatchingStatus recomputes and stores agentID's aggregate
// status. Transitions already do this; it exists for repairing an
// aggregate written by something other than this Service.
func (s *Service) UpdateAgentHatchingStatus(ctx context.Context, agentID string) (hatching.HatchingStatus, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return "", err
	}
	status := Aggregate(steps)
	if err := s.store.SetHatchingStatus(ctx, agentID, status); err != nil {
		return "", fmt.Errorf("manifest: storing hatching status of %s: %w", agentID, err)
	}
	return status, nil
}

// Progress summarizes agentID's manifest.
func (s *Service) Progress(ctx context.Context, agentID string) (*hatching.Progress, error) {
	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return nil, err
	}
	progress := &hatching.Progress{
		AgentID: agentID,
		Status:  Aggregate(steps),
		Steps:   steps,
		Total:   len(steps),
	}
	for _, step := range steps {
		if step.Status.IsDone() {
			progress.Done++
		}
		if step.Status == hatching.StepPending && step.IsInteractive() {
			progress.PendingInteractive = append(progress.PendingInteractive, step)
		}
	}
	return progress, nil
}

// StartStep moves a pending or failed step to in_progress, clearing
// any error. Starting a step that is already in progress changes
// nothing.
func (s *Service) StartStep(ctx context.Context, agentID, stepID string) (*StepUpdate, error) {
	return s.transition(ctx, agentID, stepID, "start", func(step *hatching.ManifestStep) (bool, error) {
		switch step.Status {
		case hatching.StepInProgress:
			return false, nil
		case hatching.StepPending, hatching.StepFailed:
			step.Status = hatching.StepInProgress
			step.ErrorMessage = ""
			return true, nil
		}
		return false, invalid(step, hatching.StepInProgress)
	})
}

// CompleteStep moves a pending or in-progress step to completed and
// records result, which may be nil.
func (s *Service) CompleteStep(ctx context.Context, agentID, stepID string, result map[string]any) (*StepUpdate, error) {
	return s.transition(ctx, agentID, stepID, "complete", func(step *hatching.ManifestStep) (bool, error) {
		if step.Status != hatching.StepPending && step.Status != hatching.StepInProgress {
			return false, invalid(step, hatching.StepCompleted)
		}
		now := s.clock.Now()
		step.Status = hatching.StepCompleted
		step.CompletedAt = &now
		step.ErrorMessage = ""
		step.Result = maps.Clone(result)
		return true, nil
	})
}

// FailStep moves a pending or in-progress step to failed with
// message, which must not be empty.
func (s *Service) FailStep(ctx context.Context, agentID, stepID, message string) (*StepUpdate, error) {
	if message == "" {
		return nil, fmt.Errorf("manifest: failing step %s requires an error message", stepID)
	}
	return s.transition(ctx, agentID, stepID, "fail", func(step *hatching.ManifestStep) (bool, error) {
		if step.Status != hatching.StepPending && step.Status != hatching.StepInProgress {
			return false, invalid(step, hatching.StepFailed)
		}
		step.Status = hatching.StepFailed
		step.ErrorMessage = message
		return true, nil
	})
}

// ResetStep moves an in-progress step back to pending. Interactive
// flows use it when the operator abandons a step.
func (s *Service) ResetStep(ctx context.Context, agentID, stepID string) (*StepUpdate, error) {
	return s.transition(ctx, agentID, stepID, "reset", func(step *hatching.ManifestStep) (bool, error) {
		if step.Status != hatching.StepInProgress {
			return false, invalid(step, hatching.StepPending)
		}
		step.Status = hatching.StepPending
		return true, nil
	})
}

func invalid(step *hatching.ManifestStep, target hatching.StepStatus) error {
	return fmt.Errorf("%w: step %s (%s) is %s, cannot become %s",
		ErrInvalidTransition, step.ID, step.Type, step.Status, target)
}

// transition applies mutate to one step under the agent's lock and
// persists the step with the recomputed aggregate. mutate reports
// whether it changed the step.
func (s *Service) transition(ctx context.Context, agentID, stepID, action string, mutate func(*hatching.ManifestStep) (bool, error)) (*StepUpdate, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return nil, err
	}
	index := -1
	for i := range steps {
		if steps[i].ID == stepID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("manifest: step %s on agent %s: %w", stepID, agentID, hatching.ErrNotFound)
	}

	step := &steps[index]
	changed, err := mutate(step)
	if err != nil {
		return nil, err
	}
	status := Aggregate(steps)
	if changed {
		if err := s.store.SaveStep(ctx, step, status); err != nil {
			return nil, fmt.Errorf("manifest: %s step %s: %w", action, stepID, err)
		}
		s.logger.Info("manifest step updated",
			"agent_id", agentID,
			"step_id", stepID,
			"step_type", step.Type,
			"status", step.Status,
			"hatching_status", status,
		)
	}
	return &StepUpdate{Step: *step, Hatching: status}, nil
}

// agentLocks hands out one mutex per agent id, dropping it when no
// caller holds or waits on it.
type agentLocks struct {
	mu   sync.Mutex
	held map[string]*agentLock
}

type agentLock struct {
	sync.Mutex
	refs int
}

func (l *agentLocks) lock(agentID string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.held[agentID]
	if !ok {
		entry = &agentLock{}
		l.held[agentID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, agentID)
		}
		l.mu.Unlock()
	}
}
