// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/hatchery/lib/agentconfig"
	"github.com/bureau-foundation/hatchery/lib/agentstore"
	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/manifest"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
	"github.com/bureau-foundation/hatchery/lib/testutil"
	"github.com/bureau-foundation/hatchery/lib/workerapi"
)

const (
	testAgentID = "3f2a9c71-0b4e-4d7a-9e61-5c2f8a1b7d40"
	waitTimeout = 5 * time.Second
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeWorker serves the worker channel API from mutable state.
type fakeWorker struct {
	mu          sync.Mutex
	paired      bool
	accountID   string
	code        string
	failStatus  bool
	rejectBegin bool
	begins      int
}

func (w *fakeWorker) set(mutate func(*fakeWorker)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mutate(w)
}

func (w *fakeWorker) beginCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.begins
}

func (w *fakeWorker) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch request.URL.Path {
	case "/api/channels/whatsapp/pair":
		if w.rejectBegin {
			http.Error(writer, "channel disabled", http.StatusConflict)
			return
		}
		w.begins++
		writer.Write([]byte(`{"status":"pairing"}`))
	case "/api/channels/whatsapp/status":
		if w.failStatus {
			http.Error(writer, "restarting", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(writer).Encode(workerapi.PairingStatus{Paired: w.paired, AccountID: w.accountID})
	case "/api/channels/whatsapp/qr":
		if w.code == "" {
			http.NotFound(writer, request)
			return
		}
		json.NewEncoder(writer).Encode(workerapi.PairingCode{Code: w.code, ExpiresAt: "2026-03-01T12:01:00Z"})
	default:
		http.NotFound(writer, request)
	}
}

type fixture struct {
	coordinator *Coordinator
	store       *agentstore.Store
	manifest    *manifest.Service
	generator   *agentconfig.Generator
	secrets     *secretstore.Memory
	clock       *clock.FakeClock
	worker      *fakeWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fakeClock := clock.Fake(testEpoch)
	logger := slog.New(slog.DiscardHandler)

	store, err := agentstore.Open(agentstore.Config{
		Path:   filepath.Join(t.TempDir(), "state.db"),
		Clock:  fakeClock,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("agentstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manifestService, err := manifest.New(manifest.Config{Store: store, Clock: fakeClock, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	secrets := secretstore.NewMemory()
	generator, err := agentconfig.NewGenerator(agentconfig.GeneratorConfig{
		Secrets:     secrets,
		Credentials: store,
		Clock:       fakeClock,
		Logger:      logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	worker := &fakeWorker{code: "QR-1"}
	server := httptest.NewServer(worker)
	t.Cleanup(server.Close)

	coordinator, err := New(Config{
		Agents: store,
		Steps:  manifestService,
		Connect: func(agent *hatching.Agent) (Worker, error) {
			return workerapi.New(server.URL, workerapi.Options{HTTPClient: server.Client(), Timeout: waitTimeout})
		},
		Clock:  fakeClock,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{
		coordinator: coordinator,
		store:       store,
		manifest:    manifestService,
		generator:   generator,
		secrets:     secrets,
		clock:       fakeClock,
		worker:      worker,
	}
}

// hatch creates an agent with one OpenAI credential and WhatsApp
// enabled, the way agent creation does, and marks its worker running.
func (f *fixture) hatch(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	ref, err := f.secrets.Put(ctx, "user-1", "openai", []byte("sk-test"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateCredential(ctx, &hatching.Credential{
		ID: "cred-1", Owner: "user-1", Name: "OpenAI", Purpose: hatching.PurposeLLM, SecretRef: ref,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.CreateAgent(ctx, &hatching.Agent{
		ID: testAgentID, UserID: "user-1", Name: "scout", WorkerStatus: hatching.WorkerCreating,
		GatewayPort: 18789, BucketID: "bucket-1", HatchingStatus: hatching.HatchingPending,
	}); err != nil {
		t.Fatal(err)
	}

	request := agentconfig.Request{
		AgentID: testAgentID, UserID: "user-1", GatewayPort: 18789,
		ModelPrimary: "openai/gpt-5", WorkspacePath: "~/workspace",
		Channels: []agentconfig.ChannelSpec{{Type: hatching.ChannelWhatsApp}},
	}
	config, err := f.generator.GenerateConfig(ctx, request, []string{"cred-1"})
	if err != nil {
		t.Fatal(err)
	}
	if config.EnvVarRefs["OPENAI_API_KEY"] != ref {
		t.Fatalf("credential not mapped: %v", config.EnvVarRefs)
	}
	if _, err := f.manifest.CreateManifest(ctx, testAgentID, f.generator.ManifestSteps(request, []string{"cred-1"})); err != nil {
		t.Fatal(err)
	}
	if err := f.store.EnsureChannelCredential(ctx, testAgentID, hatching.ChannelWhatsApp,
		secretstore.Ref("user-1", "agent-3f2a9c71-whatsapp")); err != nil {
		t.Fatal(err)
	}
	f.setWorker(t, hatching.WorkerRunning)
}

func (f *fixture) setWorker(t *testing.T, status hatching.WorkerStatus) {
	t.Helper()
	if err := f.store.SetWorker(context.Background(), testAgentID, status, "127.0.0.1"); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) whatsappStep(t *testing.T) *hatching.ManifestStep {
	t.Helper()
	step, err := f.manifest.GetStepByType(context.Background(), testAgentID, hatching.StepChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	return step
}

func receive(t *testing.T, session *Session, want EventType) Event {
	t.Helper()
	event := testutil.RequireReceive(t, session.Events(), waitTimeout, "waiting for %s event", want)
	if event.Type != want {
		t.Fatalf("got %s event %+v, want %s", event.Type, event, want)
	}
	return event
}

func TestPairingEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()

	steps, err := f.manifest.GetAllSteps(ctx, testAgentID)
	if err != nil {
		t.Fatal(err)
	}
	if steps[0].Status != hatching.StepCompleted || f.whatsappStep(t).Status != hatching.StepPending {
		t.Fatalf("initial manifest = %+v", steps)
	}

	update, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if update.Step.Status != hatching.StepInProgress || update.Hatching != hatching.HatchingInProgress {
		t.Errorf("after Start: %s / %s", update.Step.Status, update.Hatching)
	}
	if f.worker.beginCount() != 1 {
		t.Errorf("worker saw %d pairing starts, want 1", f.worker.beginCount())
	}

	session, err := f.coordinator.Watch(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	code := receive(t, session, EventCode)
	if code.Code != "QR-1" || code.ExpiresAt == "" || code.Channel != hatching.ChannelWhatsApp {
		t.Errorf("code event = %+v", code)
	}
	receive(t, session, EventPing)

	// An unchanged code produces only a ping.
	f.clock.Advance(PollInterval)
	receive(t, session, EventPing)

	f.worker.set(func(w *fakeWorker) { w.code = "QR-2" })
	f.clock.Advance(PollInterval)
	if code := receive(t, session, EventCode); code.Code != "QR-2" {
		t.Errorf("rotated code = %q", code.Code)
	}
	receive(t, session, EventPing)

	f.worker.set(func(w *fakeWorker) { w.paired, w.accountID = true, "+15550001111" })
	f.clock.Advance(PollInterval)

	// The step is already completed by the time the observer hears.
	paired := receive(t, session, EventPaired)
	if paired.AccountID != "+15550001111" {
		t.Errorf("paired event = %+v", paired)
	}
	step := f.whatsappStep(t)
	if step.Status != hatching.StepCompleted || step.Result["account_id"] != "+15550001111" {
		t.Errorf("whatsapp step = %s %v", step.Status, step.Result)
	}
	testutil.RequireClosed(t, session.Done(), waitTimeout, "session end after pairing")
	if _, open := <-session.Events(); open {
		t.Error("events channel still open after pairing")
	}

	agent, err := f.store.GetAgent(ctx, testAgentID)
	if err != nil {
		t.Fatal(err)
	}
	if agent.HatchingStatus != hatching.HatchingCompleted {
		t.Errorf("hatching status = %s, want completed", agent.HatchingStatus)
	}
	credential, err := f.store.GetChannelCredential(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	if !credential.IsPaired || credential.AccountID != "+15550001111" || credential.LastConnectedAt == nil {
		t.Errorf("channel credential = %+v", credential)
	}
	if f.coordinator.Active(testAgentID, hatching.ChannelWhatsApp) {
		t.Error("session still registered after pairing")
	}

	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("Start after pairing: err = %v, want ErrAlreadyPaired", err)
	}
}

func TestStartPreconditions(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()

	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelTelegram); !errors.Is(err, ErrChannelNotEnabled) {
		t.Errorf("telegram: err = %v, want ErrChannelNotEnabled", err)
	}
	if _, err := f.coordinator.Start(ctx, "missing-agent", hatching.ChannelWhatsApp); !errors.Is(err, hatching.ErrNotFound) {
		t.Errorf("missing agent: err = %v, want ErrNotFound", err)
	}

	f.setWorker(t, hatching.WorkerStarting)
	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); !errors.Is(err, ErrWorkerNotRunning) {
		t.Errorf("starting worker: err = %v, want ErrWorkerNotRunning", err)
	}
	if f.whatsappStep(t).Status != hatching.StepPending {
		t.Error("rejected Start changed the step")
	}
}

func TestStartResetsStepWhenWorkerRefuses(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	f.worker.set(func(w *fakeWorker) { w.rejectBegin = true })

	_, err := f.coordinator.Start(context.Background(), testAgentID, hatching.ChannelWhatsApp)
	if err == nil {
		t.Fatal("Start succeeded against a refusing worker")
	}
	if status := f.whatsappStep(t).Status; status != hatching.StepPending {
		t.Errorf("step is %s after refused start, want pending", status)
	}
}

func TestWatchRequiresStartedStep(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	if _, err := f.coordinator.Watch(context.Background(), testAgentID, hatching.ChannelWhatsApp); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Watch before Start: err = %v, want ErrNotStarted", err)
	}
}

func TestSecondWatchRejected(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()
	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); err != nil {
		t.Fatal(err)
	}
	session, err := f.coordinator.Watch(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Stop()

	if _, err := f.coordinator.Watch(ctx, testAgentID, hatching.ChannelWhatsApp); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Watch: err = %v, want ErrSessionActive", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()
	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); err != nil {
		t.Fatal(err)
	}
	session, err := f.coordinator.Watch(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	receive(t, session, EventCode)

	// The loop is blocked handing over its ping; Cancel must still
	// stop it.
	update, err := f.coordinator.Cancel(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if update.Step.Status != hatching.StepPending || update.Hatching != hatching.HatchingPending {
		t.Errorf("after Cancel: %s / %s", update.Step.Status, update.Hatching)
	}

	select {
	case event, open := <-session.Events():
		if open {
			t.Errorf("event %+v delivered after Cancel returned", event)
		}
	default:
		t.Error("events channel not closed when Cancel returned")
	}
	if f.coordinator.Active(testAgentID, hatching.ChannelWhatsApp) {
		t.Error("session still registered after Cancel")
	}

	if _, err := f.coordinator.Cancel(ctx, testAgentID, hatching.ChannelWhatsApp); !errors.Is(err, manifest.ErrInvalidTransition) {
		t.Errorf("second Cancel: err = %v, want ErrInvalidTransition", err)
	}
}

func TestObserverDisconnectLeavesStepInProgress(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()
	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); err != nil {
		t.Fatal(err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	session, err := f.coordinator.Watch(watchCtx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	receive(t, session, EventCode)
	cancel()
	testutil.RequireClosed(t, session.Done(), waitTimeout, "session end after observer left")

	if status := f.whatsappStep(t).Status; status != hatching.StepInProgress {
		t.Errorf("step is %s after observer left, want in_progress", status)
	}

	// A new observer can pick the pairing back up and sees the
	// current code again.
	again, err := f.coordinator.Watch(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	defer again.Stop()
	if code := receive(t, again, EventCode); code.Code != "QR-1" {
		t.Errorf("code = %q", code.Code)
	}
}

func TestWorkerErrorsAreTolerated(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()
	if _, err := f.coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); err != nil {
		t.Fatal(err)
	}
	f.worker.set(func(w *fakeWorker) { w.failStatus = true })

	session, err := f.coordinator.Watch(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Stop()

	// A worker mid-restart yields pings only.
	receive(t, session, EventPing)
	f.clock.Advance(PollInterval)
	receive(t, session, EventPing)

	f.worker.set(func(w *fakeWorker) { w.failStatus = false })
	f.clock.Advance(PollInterval)
	receive(t, session, EventCode)

	if status := f.whatsappStep(t).Status; status != hatching.StepInProgress {
		t.Errorf("step is %s after worker errors, want in_progress", status)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()
	if err := f.store.MarkChannelPaired(ctx, testAgentID, hatching.ChannelWhatsApp, "acct", testEpoch); err != nil {
		t.Fatal(err)
	}

	if err := f.coordinator.Disconnect(ctx, testAgentID, hatching.ChannelWhatsApp); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	credential, err := f.store.GetChannelCredential(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	if credential.IsPaired {
		t.Error("channel still paired after Disconnect")
	}
	if err := f.coordinator.Disconnect(ctx, testAgentID, hatching.ChannelDiscord); !errors.Is(err, hatching.ErrNotFound) {
		t.Errorf("Disconnect of unknown channel record: err = %v, want ErrNotFound", err)
	}
}

// gatedSteps holds CompleteStep open after the real write until
// release is closed.
type gatedSteps struct {
	Steps
	completed chan struct{}
	release   chan struct{}
}

func (g *gatedSteps) CompleteStep(ctx context.Context, agentID, stepID string, result map[string]any) (*manifest.StepUpdate, error) {
	update, err := g.Steps.CompleteStep(ctx, agentID, stepID, result)
	g.completed <- struct{}{}
	<-g.release
	return update, err
}

func TestObserverLeavingDuringCompletionStillMarksPaired(t *testing.T) {
	f := newFixture(t)
	f.hatch(t)
	ctx := context.Background()

	gate := &gatedSteps{Steps: f.manifest, completed: make(chan struct{}), release: make(chan struct{})}
	coordinator, err := New(Config{
		Agents:  f.store,
		Steps:   gate,
		Connect: f.coordinator.connect,
		Clock:   f.clock,
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := coordinator.Start(ctx, testAgentID, hatching.ChannelWhatsApp); err != nil {
		t.Fatalf("Start: %v", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	session, err := coordinator.Watch(watchCtx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	receive(t, session, EventCode)
	receive(t, session, EventPing)

	f.worker.set(func(w *fakeWorker) { w.paired, w.accountID = true, "+15550001" })
	f.clock.Advance(PollInterval)

	// The step is completed; the observer goes away before the
	// channel credential is written.
	testutil.RequireReceive(t, gate.completed, waitTimeout, "waiting for step completion")
	cancel()
	close(gate.release)
	testutil.RequireClosed(t, session.Done(), waitTimeout, "session end after observer left")

	step := f.whatsappStep(t)
	if step.Status != hatching.StepCompleted || step.Result["account_id"] != "+15550001" {
		t.Errorf("whatsapp step = %s %v", step.Status, step.Result)
	}
	credential, err := f.store.GetChannelCredential(ctx, testAgentID, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	if !credential.IsPaired || credential.AccountID != "+15550001" {
		t.Errorf("channel credential = %+v, want paired as +15550001", credential)
	}
}
