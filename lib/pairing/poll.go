// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pairing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bureau-foundation/hatchery/lib/schema/hatching"
	"github.com/bureau-foundation/hatchery/lib/workerapi"
)

// poller is the loop behind one Session.
type poller struct {
	coordinator *Coordinator
	session     *Session
	worker      Worker
	agentID     string
	channel     hatching.ChannelType
	stepID      string
	logger      *slog.Logger

	lastCode string
}

// run polls immediately and then every poll interval until the
// channel pairs or ctx is cancelled.
func (p *poller) run(ctx context.Context) {
	ticker := p.coordinator.clock.NewTicker(p.coordinator.pollInterval)
	defer ticker.Stop()

	for {
		if finished := p.poll(ctx); finished {
			return
		}
		select {
		case <-ctx.Done():
			p.logger.Info("pairing watch ended", "reason", context.Cause(ctx))
			return
		case <-ticker.C:
		}
	}
}

// poll runs one iteration and reports whether the session is over.
func (p *poller) poll(ctx context.Context) bool {
	status, err := p.worker.PairingStatus(ctx, p.channel)
	switch {
	case err != nil:
		p.logger.Debug("pairing status unavailable", "error", err)
	case status.Paired:
		p.complete(ctx, status.AccountID)
		return true
	default:
		p.refreshCode(ctx)
	}
	return !p.emit(ctx, Event{Type: EventPing, Channel: p.channel})
}

func (p *poller) refreshCode(ctx context.Context) {
	code, err := p.worker.PairingCode(ctx, p.channel)
	if errors.Is(err, workerapi.ErrNoPairingCode) {
		return
	}
	if err != nil {
		p.logger.Debug("pairing code unavailable", "error", err)
		return
	}
	if code.Code == p.lastCode {
		return
	}
	p.lastCode = code.Code
	p.emit(ctx, Event{Type: EventCode, Channel: p.channel, Code: code.Code, ExpiresAt: code.ExpiresAt})
}

// complete records a successful pairing. The step is completed and
// the credential marked paired before the observer hears about it.
// Both writes outlive ctx: once the step is completed, the credential
// must follow even if the observer has gone.
func (p *poller) complete(ctx context.Context, accountID string) {
	c := p.coordinator
	writeCtx := context.WithoutCancel(ctx)
	update, err := c.steps.CompleteStep(writeCtx, p.agentID, p.stepID, map[string]any{"account_id": accountID})
	if err != nil {
		p.logger.Error("completing paired step", "error", err)
		p.emit(ctx, Event{Type: EventError, Channel: p.channel, Message: "pairing succeeded but the step could not be completed"})
		return
	}
	if err := c.agents.MarkChannelPaired(writeCtx, p.agentID, p.channel, accountID, c.clock.Now()); err != nil {
		p.logger.Error("marking channel paired", "error", err)
	}
	p.logger.Info("channel paired", "account_id", accountID, "hatching_status", update.Hatching)
	p.emit(ctx, Event{Type: EventPaired, Channel: p.channel, AccountID: accountID})
}

// emit hands event to the observer, giving up when the session is
// stopped. It reports whether the event was delivered.
func (p *poller) emit(ctx context.Context, event Event) bool {
	select {
	case p.session.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
