// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerapi is a typed HTTP client for the channel API served
// by an agent's worker gateway. The hatching pairing flow uses it to
// start a channel pairing, poll for completion and fetch the code the
// operator scans.
//
// Every request addresses the worker's "default" account.
package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bureau-foundation/hatchery/lib/netutil"
	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/version"
)

// AccountID is the worker-side account every channel is paired under.
const AccountID = "default"

// ErrNoPairingCode is returned by PairingCode when the worker has no
// code to show yet.
var ErrNoPairingCode = errors.New("workerapi: no pairing code available")

// PairingStatus is the wire format for GET /api/channels/<channel>/status.
type PairingStatus struct {
	Paired    bool   `json:"paired"`
	AccountID string `json:"accountId,omitempty"`
}

// PairingCode is the wire format for GET /api/channels/<channel>/qr.
type PairingCode struct {
	// Code is the QR payload, typically a base64 PNG.
	Code string `json:"qrCode"`

	// ExpiresAt is the worker's expiry timestamp for Code, passed
	// through verbatim.
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Options configures a Client.
type Options struct {
	// HTTPClient defaults to a client with no overall timeout;
	// requests are bounded by Timeout instead.
	HTTPClient *http.Client

	// Timeout bounds each request. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

// Client talks to one worker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

// New returns a Client for the worker at baseURL, such as
// "http://10.0.0.5:18789".
func New(baseURL string, options Options) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("workerapi: invalid base URL %q", baseURL)
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    parsed.Scheme + "://" + parsed.Host,
		timeout:    options.Timeout,
	}, nil
}

// BaseURL builds a worker base URL from its address and gateway port.
func BaseURL(scheme, address string, port int) string {
	return scheme + "://" + net.JoinHostPort(address, strconv.Itoa(port))
}

// ForAgent returns a Client for agent's worker. The worker must have
// an address.
func ForAgent(agent *hatching.Agent, scheme string, options Options) (*Client, error) {
	if agent.WorkerAddress == "" {
		return nil, fmt.Errorf("workerapi: agent %s has no worker address", agent.ID)
	}
	return New(BaseURL(scheme, agent.WorkerAddress, agent.GatewayPort), options)
}

// BeginPairing asks the worker to start pairing channel.
func (client *Client) BeginPairing(ctx context.Context, channel hatching.ChannelType) error {
	body, err := json.Marshal(map[string]string{"accountId": AccountID})
	if err != nil {
		return fmt.Errorf("begin pairing: %w", err)
	}
	response, err := client.do(ctx, http.MethodPost, channelPath(channel, "pair"), body)
	if err != nil {
		return fmt.Errorf("begin pairing %s: %w", channel, err)
	}
	defer response.Body.Close()

	if response.StatusCode/100 != 2 {
		return fmt.Errorf("begin pairing %s: HTTP %d: %s", channel, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	return nil
}

// PairingStatus reports whether channel has finished pairing. A
// paired response without an account id reports AccountID.
func (client *Client) PairingStatus(ctx context.Context, channel hatching.ChannelType) (*PairingStatus, error) {
	response, err := client.do(ctx, http.MethodGet, channelPath(channel, "status"), nil)
	if err != nil {
		return nil, fmt.Errorf("pairing status %s: %w", channel, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pairing status %s: HTTP %d: %s", channel, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	var status PairingStatus
	if err := netutil.DecodeResponse(response.Body, &status); err != nil {
		return nil, fmt.Errorf("pairing status %s: %w", channel, err)
	}
	if status.Paired && status.AccountID == "" {
		status.AccountID = AccountID
	}
	return &status, nil
}

// PairingCode returns the code the operator scans to pair channel.
// It returns ErrNoPairingCode when the worker has none.
func (client *Client) PairingCode(ctx context.Context, channel hatching.ChannelType) (*PairingCode, error) {
	response, err := client.do(ctx, http.MethodGet, channelPath(channel, "qr"), nil)
	if err != nil {
		return nil, fmt.Errorf("pairing code %s: %w", channel, err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrNoPairingCode
	default:
		return nil, fmt.Errorf("pairing code %s: HTTP %d: %s", channel, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	var code PairingCode
	if err := netutil.DecodeResponse(response.Body, &code); err != nil {
		return nil, fmt.Errorf("pairing code %s: %w", channel, err)
	}
	if code.Code == "" {
		return nil, ErrNoPairingCode
	}
	return &code, nil
}

func channelPath(channel hatching.ChannelType, action string) string {
	return "/api/channels/" + url.PathEscape(string(channel)) + "/" + action
}

// do sends one request. GET requests carry the account as a query
// parameter; POST bodies are JSON.
func (client *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if client.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.timeout)
		response, err := client.send(ctx, method, path, body)
		if err != nil {
			cancel()
			return nil, err
		}
		response.Body = &cancelOnClose{ReadCloser: response.Body, cancel: cancel}
		return response, nil
	}
	return client.send(ctx, method, path, body)
}

func (client *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	target := client.baseURL + path
	if method == http.MethodGet {
		target += "?" + url.Values{"accountId": {AccountID}}.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("User-Agent", version.UserAgent("hatchery"))
	return client.httpClient.Do(request)
}

// cancelOnClose releases a per-request timeout once the body is
// closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (body *cancelOnClose) Close() error {
	err := body.ReadCloser.Close()
	body.cancel()
	return err
}
