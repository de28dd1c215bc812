// go-st25dv
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25dv.
//
// go-st25dv is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25dv is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25dv; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package st25dv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-st25dv/internal/retry"
)

// MailboxProtocol exchanges messages with an ST25DV tag through its fast
// transfer mode mailbox.
//
// Thread Safety: transfers and register accesses are serialized by a mutex
// owned by the protocol, since the mailbox is a single shared resource.
// Disconnect does not wait for that mutex; it closes the link and makes an
// in-flight transfer fail instead.
type MailboxProtocol struct {
	*session
	commands      commandSet
	timing        TimingParameters
	mu            sync.Mutex
	timingMu      sync.RWMutex
	transferState atomic.Int32
}

// NewMailboxProtocol creates a mailbox protocol on top of link
func NewMailboxProtocol(link RawLink, opts ...Option) (*MailboxProtocol, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: nil link", ErrInvalidArgument)
	}

	config, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &MailboxProtocol{
		session:  newSession(link, config),
		commands: config.commands(),
		timing:   config.Timing,
	}, nil
}

// Variant returns VariantMailbox
func (*MailboxProtocol) Variant() ProtocolVariant {
	return VariantMailbox
}

// Timing returns the timing in effect for the current connection
func (p *MailboxProtocol) Timing() TimingParameters {
	p.timingMu.RLock()
	defer p.timingMu.RUnlock()
	return p.timing
}

// TransferState returns the step the transfer engine is in
func (p *MailboxProtocol) TransferState() TransferState {
	return TransferState(p.transferState.Load())
}

func (p *MailboxProtocol) setTransferState(s TransferState) {
	p.transferState.Store(int32(s))
}

// Connect opens the link and calibrates timing for the tag
func (p *MailboxProtocol) Connect() error {
	return p.ConnectContext(context.Background())
}

// ConnectContext opens the link with context support. Up to
// Config.ConnectAttempts attempts are made; the error after the last one
// matches ErrTagUnreachable.
func (p *MailboxProtocol) ConnectContext(ctx context.Context) error {
	return p.connect(ctx, p.calibrate)
}

// Disconnect closes the link. Close errors are logged and swallowed; the
// state always ends up disconnected.
func (p *MailboxProtocol) Disconnect() error {
	p.disconnect()
	return nil
}

// calibrate reads the energy harvesting register of a freshly opened
// session and updates the timing. It is the only writer of p.timing.
func (p *MailboxProtocol) calibrate(ctx context.Context) error {
	eh, err := p.readRegister(ctx, RegisterEnergyHarvesting)
	if err != nil {
		return fmt.Errorf("energy harvesting calibration failed: %w", err)
	}

	timing := p.config.Timing
	if eh.Has(HarvestingEnabled) {
		timing.PrePollDelay = HarvestingPrePollDelay
	}

	p.timingMu.Lock()
	p.timing = timing
	p.timingMu.Unlock()

	debugf("calibrated timing from %s: pre-poll %s", eh, timing.PrePollDelay)
	return nil
}

// sleep waits on the configured clock
func (p *MailboxProtocol) sleep(ctx context.Context, d time.Duration) error {
	return p.config.Clock.Sleep(ctx, d)
}

func (p *MailboxProtocol) retryConfig(ctx context.Context, op string, retryable func(error) bool) retry.Config {
	return retry.Config{
		Description: op,
		MaxAttempts: p.config.RetryAttempts,
		Delay:       p.config.RetryDelay,
		Retryable:   retryable,
		Sleep: func(d time.Duration) error {
			return p.sleep(ctx, d)
		},
		OnRetry: func(attempt int, err error) {
			debugf("%s attempt %d failed, retrying: %v", op, attempt, err)
		},
	}
}

// handleFailure turns an error into what the caller sees. A lost tag forces
// a disconnect; a wait cut short by a disconnect rather than by the
// caller's context becomes ErrNotConnected.
func (s *session) handleFailure(callerCtx context.Context, err error) error {
	if isTagGone(err) {
		s.forceDisconnect(err)
		return err
	}

	if errors.Is(err, context.Canceled) && callerCtx.Err() == nil {
		return newProtocolError("transfer", ErrNotConnected, err)
	}
	return err
}
