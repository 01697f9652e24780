// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentconfig

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hatchery/lib/clock"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/secretstore"
)

const testAgentID = "3f2a9c71-0b4e-4d7a-9e61-5c2f8a1b7d40"

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type credentialTable []hatching.Credential

func (table credentialTable) GetCredentials(_ context.Context, owner string, ids []string) ([]hatching.Credential, error) {
	var found []hatching.Credential
	for _, id := range ids {
		for _, credential := range table {
			if credential.ID == id && credential.Owner == owner {
				found = append(found, credential)
			}
		}
	}
	return found, nil
}

func newTestGenerator(t *testing.T, credentials credentialTable) (*Generator, *secretstore.Memory) {
	t.Helper()
	secrets := secretstore.NewMemory()
	generator, err := NewGenerator(GeneratorConfig{
		Secrets:     secrets,
		Credentials: credentials,
		Clock:       clock.Fake(testEpoch),
		Logger:      slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return generator, secrets
}

func baseRequest() Request {
	return Request{
		AgentID:       testAgentID,
		UserID:        "user-1",
		GatewayPort:   18789,
		ModelPrimary:  "anthropic/claude-sonnet-4-5",
		WorkspacePath: "~/workspace",
	}
}

func TestPlaceholderFor(t *testing.T) {
	tests := []struct {
		name        string
		credential  hatching.Credential
		placeholder string
		mapped      bool
	}{
		{"name keyword", hatching.Credential{Name: "My OpenAI key", Purpose: hatching.PurposeLLM}, "OPENAI_API_KEY", true},
		{"case insensitive", hatching.Credential{Name: "GROQ prod", Purpose: hatching.PurposeLLM}, "GROQ_API_KEY", true},
		{"first rule wins", hatching.Credential{Name: "openai-via-anthropic-proxy", Purpose: hatching.PurposeLLM}, "ANTHROPIC_API_KEY", true},
		{"utility by name", hatching.Credential{Name: "Brave Search", Purpose: hatching.PurposeUtility}, "BRAVE_API_KEY", true},
		{"llm by description", hatching.Credential{Name: "work key", Description: "Moonshot Kimi", Purpose: hatching.PurposeLLM}, "MOONSHOT_API_KEY", true},
		{"llm default", hatching.Credential{Name: "work key", Description: "the good one", Purpose: hatching.PurposeLLM}, "ANTHROPIC_API_KEY", true},
		{"utility description ignored", hatching.Credential{Name: "search", Description: "firecrawl", Purpose: hatching.PurposeUtility}, "", false},
		{"utility unmatched", hatching.Credential{Name: "my webhook", Purpose: hatching.PurposeUtility}, "", false},
		{"zai", hatching.Credential{Name: "ZAI glm", Purpose: hatching.PurposeLLM}, "ZAI_API_KEY", true},
		{"elevenlabs", hatching.Credential{Name: "ElevenLabs voice", Purpose: hatching.PurposeUtility}, "ELEVENLABS_API_KEY", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			placeholder, mapped := PlaceholderFor(test.credential)
			if placeholder != test.placeholder || mapped != test.mapped {
				t.Errorf("PlaceholderFor = %q, %v; want %q, %v", placeholder, mapped, test.placeholder, test.mapped)
			}
		})
	}
}

func TestGenerateConfigWithoutChannels(t *testing.T) {
	credentials := credentialTable{
		{ID: "c1", Owner: "user-1", Name: "OpenAI", Purpose: hatching.PurposeLLM, SecretRef: "secret:user-1/c1"},
		{ID: "c2", Owner: "user-1", Name: "webhook", Purpose: hatching.PurposeUtility, SecretRef: "secret:user-1/c2"},
	}
	generator, secrets := newTestGenerator(t, credentials)
	ctx := context.Background()

	config, err := generator.GenerateConfig(ctx, baseRequest(), []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}

	if len(config.EnvVarRefs) != 2 {
		t.Errorf("EnvVarRefs = %v, want OPENAI_API_KEY and the gateway token", config.EnvVarRefs)
	}
	if config.EnvVarRefs["OPENAI_API_KEY"] != "secret:user-1/c1" {
		t.Errorf("OPENAI_API_KEY ref = %q", config.EnvVarRefs["OPENAI_API_KEY"])
	}
	wantTokenRef := "secret:user-1/agent-3f2a9c71-gateway-token"
	if config.GatewayAuthTokenRef != wantTokenRef || config.EnvVarRefs[GatewayTokenPlaceholder] != wantTokenRef {
		t.Errorf("gateway token ref = %q / %q, want %q",
			config.GatewayAuthTokenRef, config.EnvVarRefs[GatewayTokenPlaceholder], wantTokenRef)
	}

	token, err := secrets.Get(ctx, wantTokenRef)
	if err != nil {
		t.Fatalf("gateway token not stored: %v", err)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token.String())
	token.Close()
	if err != nil || len(decoded) != 32 {
		t.Errorf("gateway token is not 32 URL-safe base64 bytes: %d bytes, %v", len(decoded), err)
	}

	env := config.Template["env"].(map[string]any)
	if len(env) != 1 || env["OPENAI_API_KEY"] != "${OPENAI_API_KEY}" {
		t.Errorf("env section = %v", env)
	}
	gateway := config.Template["gateway"].(map[string]any)
	auth := gateway["auth"].(map[string]any)
	if gateway["port"] != 18789 || auth["mode"] != "token" || auth["token"] != "${OPENCLAW_GATEWAY_TOKEN}" {
		t.Errorf("gateway section = %v", gateway)
	}
	defaults := config.Template["agents"].(map[string]any)["defaults"].(map[string]any)
	if defaults["workspace"] != "~/workspace" {
		t.Errorf("agents.defaults = %v", defaults)
	}
	if _, ok := config.Template["channels"]; ok {
		t.Error("channels section present with no channels enabled")
	}
}

func TestGenerateConfigChannels(t *testing.T) {
	generator, _ := newTestGenerator(t, nil)
	request := baseRequest()
	request.Channels = []ChannelSpec{
		{Type: hatching.ChannelWhatsApp},
		{Type: hatching.ChannelTelegram, AllowFrom: []string{"@alice", "@bob"}},
	}

	config, err := generator.GenerateConfig(context.Background(), request, nil)
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	channels := config.Template["channels"].(map[string]any)
	whatsapp := channels["whatsapp"].(map[string]any)["allowFrom"].([]string)
	if len(whatsapp) != 1 || whatsapp[0] != "*" {
		t.Errorf("whatsapp allowFrom = %v, want [*]", whatsapp)
	}
	telegram := channels["telegram"].(map[string]any)["allowFrom"].([]string)
	if strings.Join(telegram, ",") != "@alice,@bob" {
		t.Errorf("telegram allowFrom = %v", telegram)
	}
	if len(config.EnabledChannels) != 2 {
		t.Errorf("EnabledChannels = %v", config.EnabledChannels)
	}
	if _, ok := config.AllowFrom[hatching.ChannelWhatsApp]; ok {
		t.Error("AllowFrom recorded for an unrestricted channel")
	}
	if !generator.HasInteractiveSteps(request) {
		t.Error("HasInteractiveSteps = false with channels enabled")
	}
	if generator.HasInteractiveSteps(baseRequest()) {
		t.Error("HasInteractiveSteps = true without channels")
	}
}

func TestGenerateConfigRotatesGatewayToken(t *testing.T) {
	generator, secrets := newTestGenerator(t, nil)
	ctx := context.Background()

	readToken := func() string {
		config, err := generator.GenerateConfig(ctx, baseRequest(), nil)
		if err != nil {
			t.Fatalf("GenerateConfig: %v", err)
		}
		token, err := secrets.Get(ctx, config.GatewayAuthTokenRef)
		if err != nil {
			t.Fatal(err)
		}
		defer token.Close()
		return token.String()
	}
	if first, second := readToken(), readToken(); first == second {
		t.Error("two generations produced the same gateway token")
	}
}

func TestRequestValidation(t *testing.T) {
	mutations := map[string]func(*Request){
		"short agent id":   func(r *Request) { r.AgentID = "abc" },
		"missing user":     func(r *Request) { r.UserID = "" },
		"port zero":        func(r *Request) { r.GatewayPort = 0 },
		"port too large":   func(r *Request) { r.GatewayPort = 70000 },
		"unknown channel":  func(r *Request) { r.Channels = []ChannelSpec{{Type: "slack"}} },
		"repeated channel": func(r *Request) { r.Channels = []ChannelSpec{{Type: "discord"}, {Type: "discord"}} },
	}
	generator, _ := newTestGenerator(t, nil)
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			request := baseRequest()
			mutate(&request)
			if _, err := generator.GenerateConfig(context.Background(), request, nil); err == nil {
				t.Error("GenerateConfig accepted an invalid request")
			}
		})
	}
}

func TestResolveConfigEscapesValues(t *testing.T) {
	generator, secrets := newTestGenerator(t, nil)
	ctx := context.Background()

	tricky := "sk-\"quoted\"\\back\nnewline ünïcødé 🔑 $(rm -rf /) `x` ; | & <tag>"
	trickyRef, err := secrets.Put(ctx, "user-1", "tricky", []byte(tricky))
	if err != nil {
		t.Fatal(err)
	}
	tokenRef, err := secrets.Put(ctx, "user-1", "token", []byte("tok-123"))
	if err != nil {
		t.Fatal(err)
	}

	template := map[string]any{
		"gateway": map[string]any{"auth": map[string]any{"token": "${OPENCLAW_GATEWAY_TOKEN}"}},
		"env":     map[string]any{"OPENAI_API_KEY": "${OPENAI_API_KEY}"},
	}
	refs := map[string]string{"OPENAI_API_KEY": trickyRef, GatewayTokenPlaceholder: tokenRef}

	text, err := generator.ResolveConfig(ctx, template, refs)
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	var parsed map[string]map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("resolved config is not valid JSON: %v\n%s", err, text)
	}
	if parsed["env"]["OPENAI_API_KEY"] != tricky {
		t.Errorf("resolved value = %q, want %q", parsed["env"]["OPENAI_API_KEY"], tricky)
	}
	if !strings.Contains(text, "<tag>") {
		t.Error("HTML characters were escaped")
	}
	if strings.HasSuffix(text, "\n") {
		t.Error("resolved config ends with a newline")
	}
}

func TestResolveConfigLeavesUnresolvablePlaceholders(t *testing.T) {
	generator, secrets := newTestGenerator(t, nil)
	ctx := context.Background()
	goodRef, err := secrets.Put(ctx, "user-1", "good", []byte("good-value"))
	if err != nil {
		t.Fatal(err)
	}
	flakyRef, err := secrets.Put(ctx, "user-1", "flaky", []byte("never-seen"))
	if err != nil {
		t.Fatal(err)
	}
	secrets.FailGet(flakyRef, errors.New("backend unavailable"))

	template := map[string]any{"env": map[string]any{
		"GOOD":    "${GOOD}",
		"FLAKY":   "${FLAKY}",
		"MISSING": "${MISSING}",
	}}
	refs := map[string]string{"GOOD": goodRef, "FLAKY": flakyRef, "MISSING": "secret:user-1/missing"}

	text, err := generator.ResolveConfig(ctx, template, refs)
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	for _, want := range []string{`"GOOD": "good-value"`, `"FLAKY": "${FLAKY}"`, `"MISSING": "${MISSING}"`} {
		if !strings.Contains(text, want) {
			t.Errorf("resolved config missing %s:\n%s", want, text)
		}
	}
}

func TestResolveSecretsSkipsInvalidUTF8(t *testing.T) {
	secrets := secretstore.NewMemory()
	ctx := context.Background()
	goodRef, err := secrets.Put(ctx, "user-1", "good", []byte("good-value"))
	if err != nil {
		t.Fatal(err)
	}
	binaryRef, err := secrets.Put(ctx, "user-1", "binary", []byte("a\xffb"))
	if err != nil {
		t.Fatal(err)
	}
	refs := map[string]string{"GOOD": goodRef, "BINARY": binaryRef}

	values := ResolveSecrets(ctx, secrets, refs, slog.New(slog.DiscardHandler))
	if values["GOOD"] != "good-value" {
		t.Errorf("GOOD = %q, want good-value", values["GOOD"])
	}
	if _, ok := values["BINARY"]; ok {
		t.Errorf("BINARY resolved to %q, want it skipped", values["BINARY"])
	}

	template := map[string]any{"env": map[string]any{"GOOD": "${GOOD}", "BINARY": "${BINARY}"}}
	text, _, err := Resolve(ctx, secrets, template, refs, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(text, `"BINARY": "${BINARY}"`) {
		t.Errorf("placeholder for invalid value was substituted:\n%s", text)
	}
	if strings.ContainsRune(text, '\uFFFD') {
		t.Errorf("resolved config contains a replacement character:\n%s", text)
	}
}

func TestSubstituteIsSinglePass(t *testing.T) {
	got := Substitute(`{"a": "${A}", "b": "${B}"}`, map[string]string{"A": "${B}", "B": "bee"})
	if got != `{"a": "${B}", "b": "bee"}` {
		t.Errorf("Substitute = %s", got)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	template := map[string]any{"z": 1, "a": map[string]any{"y": "${Y}", "b": []string{"*"}}}
	first, err := Render(template)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"a\": {\n    \"b\": [\n      \"*\"\n    ],\n    \"y\": \"${Y}\"\n  },\n  \"z\": 1\n}"
	if first != want {
		t.Errorf("Render =\n%s\nwant\n%s", first, want)
	}
}

func TestManifestSteps(t *testing.T) {
	generator, _ := newTestGenerator(t, nil)
	request := baseRequest()
	request.Channels = []ChannelSpec{
		{Type: hatching.ChannelDiscord},
		{Type: hatching.ChannelWhatsApp, AllowFrom: []string{"+15551234567"}},
	}

	steps := generator.ManifestSteps(request, []string{"c1"})
	wantTypes := []hatching.StepType{
		hatching.StepCredentialLLM, hatching.StepConfigGateway,
		hatching.StepChannelDiscord, hatching.StepChannelWhatsApp,
	}
	wantStatus := []hatching.StepStatus{
		hatching.StepCompleted, hatching.StepCompleted, hatching.StepPending, hatching.StepPending,
	}
	if len(steps) != len(wantTypes) {
		t.Fatalf("got %d steps, want %d", len(steps), len(wantTypes))
	}
	ids := make(map[string]bool)
	for i, step := range steps {
		if step.Type != wantTypes[i] || step.Status != wantStatus[i] || step.Order != i {
			t.Errorf("step %d = %s/%s/order %d", i, step.Type, step.Status, step.Order)
		}
		if step.AgentID != testAgentID || step.ID == "" || ids[step.ID] {
			t.Errorf("step %d has bad identity: %q/%q", i, step.AgentID, step.ID)
		}
		ids[step.ID] = true
		if (step.Status == hatching.StepCompleted) != (step.CompletedAt != nil) {
			t.Errorf("step %d CompletedAt = %v with status %s", i, step.CompletedAt, step.Status)
		}
	}
	if steps[1].Config["port"] != 18789 {
		t.Errorf("config_gateway port = %v", steps[1].Config["port"])
	}
	allowFrom := steps[3].Config["allow_from"].([]any)
	if len(allowFrom) != 1 || allowFrom[0] != "+15551234567" {
		t.Errorf("whatsapp allow_from = %v", allowFrom)
	}

	withoutCredentials := generator.ManifestSteps(baseRequest(), nil)
	if len(withoutCredentials) != 2 || withoutCredentials[0].Status != hatching.StepPending {
		t.Errorf("credential_llm without credentials = %+v", withoutCredentials[0])
	}
}
