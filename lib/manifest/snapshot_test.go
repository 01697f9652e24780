// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAgent(t, "source")

	steps := []hatching.ManifestStep{
		step("s-llm", hatching.StepCredentialLLM, hatching.StepCompleted, 0),
		step("s-gateway", hatching.StepConfigGateway, hatching.StepCompleted, 1),
		step("s-workspace", hatching.StepConfigWorkspace, hatching.StepSkipped, 2),
		step("s-whatsapp", hatching.StepChannelWhatsApp, hatching.StepPending, 3),
		step("s-telegram", hatching.StepChannelTelegram, hatching.StepPending, 4),
		step("s-discord", hatching.StepChannelDiscord, hatching.StepPending, 5),
	}
	steps[1].Config = map[string]any{"port": 18789}
	if _, err := f.service.CreateManifest(ctx, "source", steps); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.StartStep(ctx, "source", "s-whatsapp"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.CompleteStep(ctx, "source", "s-whatsapp", map[string]any{"account_id": "+15550001111"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.FailStep(ctx, "source", "s-telegram", "token revoked"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.StartStep(ctx, "source", "s-discord"); err != nil {
		t.Fatal(err)
	}

	snapshot, err := f.service.GetManifestSnapshot(ctx, "source")
	if err != nil {
		t.Fatalf("GetManifestSnapshot: %v", err)
	}
	if len(snapshot.Steps) != len(steps) {
		t.Fatalf("snapshot has %d steps, want %d", len(snapshot.Steps), len(steps))
	}
	if snapshot.Steps[4].ErrorMessage != "token revoked" || snapshot.Steps[0].CompletedAt == "" {
		t.Errorf("snapshot lost step detail: %+v", snapshot.Steps)
	}

	// Archive through the template table so the restore sees the
	// stored form.
	if err := f.store.SaveTemplate(ctx, "starter", "user-1", snapshot, false); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	archived, err := f.store.GetTemplate(ctx, "starter")
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}

	f.createAgent(t, "copy")
	restored, err := f.service.RestoreFromSnapshot(ctx, "copy", archived)
	if err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	if len(restored) != len(steps) {
		t.Fatalf("restored %d steps, want %d", len(restored), len(steps))
	}

	wantStatus := map[hatching.StepType]hatching.StepStatus{
		hatching.StepCredentialLLM:   hatching.StepCompleted,
		hatching.StepConfigGateway:   hatching.StepCompleted,
		hatching.StepConfigWorkspace: hatching.StepPending,
		hatching.StepChannelWhatsApp: hatching.StepCompleted,
		hatching.StepChannelTelegram: hatching.StepPending,
		hatching.StepChannelDiscord:  hatching.StepPending,
	}
	stored, err := f.service.GetAllSteps(ctx, "copy")
	if err != nil {
		t.Fatal(err)
	}
	for index, s := range stored {
		if s.Status != wantStatus[s.Type] {
			t.Errorf("%s restored as %s, want %s", s.Type, s.Status, wantStatus[s.Type])
		}
		if s.Order != index {
			t.Errorf("%s restored at order %d, want %d", s.Type, s.Order, index)
		}
		if s.ID == steps[index].ID {
			t.Errorf("%s kept the source step id", s.Type)
		}
		if s.Status != hatching.StepCompleted && (s.Result != nil || s.CompletedAt != nil || s.ErrorMessage != "") {
			t.Errorf("%s restored as pending with leftover state: %+v", s.Type, s)
		}
	}
	if stored[3].Result["account_id"] != "+15550001111" {
		t.Errorf("whatsapp result = %v, want the archived account id", stored[3].Result)
	}
	if stored[0].CompletedAt == nil || !stored[0].CompletedAt.Equal(testEpoch) {
		t.Errorf("credential completion time = %v, want %v", stored[0].CompletedAt, testEpoch)
	}
	if port, ok := stored[1].Config["port"].(uint64); !ok || port != 18789 {
		t.Errorf("gateway config = %#v", stored[1].Config)
	}
	if status := f.hatchingStatus(t, "copy"); status != hatching.HatchingPending {
		t.Errorf("restored hatching status = %s, want pending", status)
	}
}

func TestRestoreFallsBackToNowForUnreadableCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAgent(t, "agent-1")
	f.clock.Advance(time.Hour)

	restored, err := f.service.RestoreFromSnapshot(ctx, "agent-1", &hatching.Snapshot{Steps: []hatching.SnapshotStep{
		{Type: hatching.StepConfigGateway, Status: hatching.StepCompleted, CompletedAt: "yesterday"},
	}})
	if err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	if got := restored[0].CompletedAt; got == nil || !got.Equal(testEpoch.Add(time.Hour)) {
		t.Errorf("CompletedAt = %v, want the current time", got)
	}
}

func TestRestoreRejectsInvalidSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAgent(t, "agent-1")

	_, err := f.service.RestoreFromSnapshot(ctx, "agent-1", &hatching.Snapshot{Steps: []hatching.SnapshotStep{
		{Type: hatching.StepChannelDiscord, Status: hatching.StepPending},
		{Type: hatching.StepChannelDiscord, Status: hatching.StepCompleted},
	}})
	if !errors.Is(err, ErrDuplicateStep) {
		t.Errorf("duplicate step type: err = %v, want ErrDuplicateStep", err)
	}

	_, err = f.service.RestoreFromSnapshot(ctx, "agent-1", &hatching.Snapshot{Steps: []hatching.SnapshotStep{
		{Type: "channel_irc", Status: hatching.StepPending},
	}})
	if err == nil {
		t.Error("unknown step type accepted")
	}

	_, err = f.service.RestoreFromSnapshot(ctx, "missing", &hatching.Snapshot{})
	if !errors.Is(err, hatching.ErrNotFound) {
		t.Errorf("restore into missing agent: err = %v, want ErrNotFound", err)
	}
}
