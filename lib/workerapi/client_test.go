// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(server.URL, Options{HTTPClient: server.Client(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestBeginPairing(t *testing.T) {
	type captured struct{ path, accountID, contentType string }
	requests := make(chan captured, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		requests <- captured{r.URL.Path, body["accountId"], r.Header.Get("Content-Type")}
		w.Write([]byte(`{"status":"pairing"}`))
	})

	if err := client.BeginPairing(context.Background(), hatching.ChannelWhatsApp); err != nil {
		t.Fatalf("BeginPairing: %v", err)
	}
	got := <-requests
	if got.path != "/api/channels/whatsapp/pair" || got.accountID != "default" || got.contentType != "application/json" {
		t.Errorf("request = %+v", got)
	}
}

func TestBeginPairingRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel not configured", http.StatusConflict)
	})
	err := client.BeginPairing(context.Background(), hatching.ChannelDiscord)
	if err == nil || !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "channel not configured") {
		t.Errorf("err = %v, want the status and body", err)
	}
}

func TestPairingStatus(t *testing.T) {
	responses := map[string]string{
		"/api/channels/whatsapp/status": `{"paired":true,"accountId":"+15550001111"}`,
		"/api/channels/telegram/status": `{"paired":true}`,
		"/api/channels/discord/status":  `{"paired":false}`,
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("accountId") != "default" {
			t.Errorf("accountId = %q", r.URL.Query().Get("accountId"))
		}
		w.Write([]byte(responses[r.URL.Path]))
	})
	ctx := context.Background()

	tests := []struct {
		channel hatching.ChannelType
		paired  bool
		account string
	}{
		{hatching.ChannelWhatsApp, true, "+15550001111"},
		{hatching.ChannelTelegram, true, "default"},
		{hatching.ChannelDiscord, false, ""},
	}
	for _, test := range tests {
		status, err := client.PairingStatus(ctx, test.channel)
		if err != nil {
			t.Fatalf("PairingStatus(%s): %v", test.channel, err)
		}
		if status.Paired != test.paired || status.AccountID != test.account {
			t.Errorf("PairingStatus(%s) = %+v", test.channel, status)
		}
	}
}

func TestPairingCode(t *testing.T) {
	var state atomic.Value
	state.Store("ok")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch state.Load().(string) {
		case "missing":
			http.NotFound(w, r)
		case "empty":
			w.Write([]byte(`{"qrCode":""}`))
		case "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"qrCode":"iVBORw0KGgo=","expiresAt":"2026-03-01T12:01:00Z"}`))
		}
	})
	ctx := context.Background()

	code, err := client.PairingCode(ctx, hatching.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("PairingCode: %v", err)
	}
	if code.Code != "iVBORw0KGgo=" || code.ExpiresAt != "2026-03-01T12:01:00Z" {
		t.Errorf("code = %+v", code)
	}
	for _, name := range []string{"missing", "empty"} {
		state.Store(name)
		if _, err := client.PairingCode(ctx, hatching.ChannelWhatsApp); !errors.Is(err, ErrNoPairingCode) {
			t.Errorf("%s: err = %v, want ErrNoPairingCode", name, err)
		}
	}
	state.Store("broken")
	if _, err := client.PairingCode(ctx, hatching.ChannelWhatsApp); err == nil || errors.Is(err, ErrNoPairingCode) {
		t.Errorf("server error: err = %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := New(server.URL, Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.PairingStatus(context.Background(), hatching.ChannelWhatsApp); err == nil {
		t.Error("PairingStatus returned without error from a stalled worker")
	}
}

func TestForAgent(t *testing.T) {
	agent := &hatching.Agent{ID: "a", WorkerAddress: "10.0.0.5", GatewayPort: 18789}
	client, err := ForAgent(agent, "http", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if client.baseURL != "http://10.0.0.5:18789" {
		t.Errorf("baseURL = %s", client.baseURL)
	}
	ipv6 := &hatching.Agent{ID: "b", WorkerAddress: "fd00::5", GatewayPort: 18789}
	if client, err = ForAgent(ipv6, "https", Options{}); err != nil || client.baseURL != "https://[fd00::5]:18789" {
		t.Errorf("IPv6 base URL = %v, %v", client, err)
	}
	if _, err := ForAgent(&hatching.Agent{ID: "c"}, "http", Options{}); err == nil {
		t.Error("ForAgent accepted an agent without an address")
	}
}
