// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

// GetManifestSnapshot exports agentID's manifest for archival in a
// template.
func (s *Service) GetManifestSnapshot(ctx context.Context, agentID string) (*hatching.Snapshot, error) {
	steps, err := s.loadSteps(ctx, agentID)
	if err != nil {
		return nil, err
	}
	snapshot := &hatching.Snapshot{AgentID: agentID, Steps: make([]hatching.SnapshotStep, 0, len(steps))}
	for _, step := range steps {
		entry := hatching.SnapshotStep{
			Type:         step.Type,
			Status:       step.Status,
			Order:        step.Order,
			Config:       step.Config,
			Result:       step.Result,
			ErrorMessage: step.ErrorMessage,
		}
		if step.CompletedAt != nil {
			entry.CompletedAt = step.CompletedAt.UTC().Format(time.RFC3339Nano)
		}
		snapshot.Steps = append(snapshot.Steps, entry)
	}
	return snapshot, nil
}

// RestoreFromSnapshot creates agentID's manifest from snapshot. Steps
// that were completed stay completed with their result; every other
// step, skipped and failed included, is recreated as pending with no
// result. Steps get fresh ids.
func (s *Service) RestoreFromSnapshot(ctx context.Context, agentID string, snapshot *hatching.Snapshot) ([]hatching.ManifestStep, error) {
	if err := ValidateSnapshot(snapshot); err != nil {
		return nil, err
	}
	steps := make([]hatching.ManifestStep, 0, len(snapshot.Steps))
	for _, entry := range snapshot.Steps {
		step := hatching.ManifestStep{
			ID:     uuid.NewString(),
			Type:   entry.Type,
			Status: hatching.StepPending,
			Order:  entry.Order,
			Config: maps.Clone(entry.Config),
		}
		if step.Config == nil {
			step.Config = map[string]any{}
		}
		if entry.Status == hatching.StepCompleted {
			step.Status = hatching.StepCompleted
			step.Result = maps.Clone(entry.Result)
			step.CompletedAt = s.restoredCompletion(entry)
		}
		steps = append(steps, step)
	}

	if _, err := s.CreateManifest(ctx, agentID, steps); err != nil {
		return nil, err
	}
	s.logger.Info("manifest restored",
		"agent_id", agentID,
		"source_agent_id", snapshot.AgentID,
		"steps", len(steps),
	)
	return steps, nil
}

// restoredCompletion keeps the archived completion time, falling back
// to now for snapshots that lack a readable one.
func (s *Service) restoredCompletion(entry hatching.SnapshotStep) *time.Time {
	if entry.CompletedAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, entry.CompletedAt); err == nil {
			return &parsed
		}
		s.logger.Warn("snapshot step has unreadable completion time",
			"step_type", entry.Type, "completed_at", entry.CompletedAt)
	}
	now := s.clock.Now()
	return &now
}

// ValidateSnapshot checks that snapshot can be restored: known step
// types, each at most once.
func ValidateSnapshot(snapshot *hatching.Snapshot) error {
	seen := make(map[hatching.StepType]bool, len(snapshot.Steps))
	for _, entry := range snapshot.Steps {
		if !entry.Type.IsValid() {
			return fmt.Errorf("manifest: snapshot has unknown step type %q", entry.Type)
		}
		if !entry.Status.IsValid() {
			return fmt.Errorf("manifest: snapshot step %s has unknown status %q", entry.Type, entry.Status)
		}
		if seen[entry.Type] {
			return fmt.Errorf("%w: %s appears twice in snapshot", ErrDuplicateStep, entry.Type)
		}
		seen[entry.Type] = true
	}
	return nil
}
