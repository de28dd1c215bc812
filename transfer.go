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
	"time"

	"github.com/ZaparooProject/go-st25dv/internal/retry"
)

// TransferState is the step a mailbox round trip is in
type TransferState int32

const (
	// TransferIdle means no transfer is running
	TransferIdle TransferState = iota
	// TransferConnecting means the link is being checked or resumed
	TransferConnecting
	// TransferMailboxCheck means the mailbox is being checked or reset
	TransferMailboxCheck
	// TransferWriting means the message is being written
	TransferWriting
	// TransferPolling means the engine waits for the tag's response
	TransferPolling
	// TransferReading means the response is being read
	TransferReading
	// TransferFailed means the last transfer ended with an error
	TransferFailed
)

// String returns the state name
func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "idle"
	case TransferConnecting:
		return "connecting"
	case TransferMailboxCheck:
		return "mailbox-check"
	case TransferWriting:
		return "writing"
	case TransferPolling:
		return "polling"
	case TransferReading:
		return "reading"
	case TransferFailed:
		return "failed"
	default:
		return fmt.Sprintf("TransferState(%d)", int32(s))
	}
}

// Transfer sends message to the tag and returns its response
func (p *MailboxProtocol) Transfer(message []byte) ([]byte, error) {
	return p.TransferContext(context.Background(), message)
}

// TransferContext performs one mailbox round trip: check the mailbox, write
// the message, wait for the tag to answer and read the answer back.
//
// message must hold 1 to 255 bytes. The context is observed at every wait
// and before every exchange; there is no other timeout besides the poll
// budget.
func (p *MailboxProtocol) TransferContext(ctx context.Context, message []byte) ([]byte, error) {
	if err := validateMessage(message); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.setTransferState(TransferConnecting)
	if err := p.ensureConnected(ctx, p.calibrate); err != nil {
		p.setTransferState(TransferFailed)
		return nil, p.handleFailure(ctx, err)
	}

	sctx, stop := p.conn.bind(ctx)
	defer stop()

	response, err := p.roundTrip(sctx, message)
	if err != nil {
		p.setTransferState(TransferFailed)
		return nil, p.handleFailure(ctx, err)
	}

	p.setTransferState(TransferIdle)
	return response, nil
}

func validateMessage(message []byte) error {
	if len(message) == 0 || len(message) > MaxMessageSize {
		return &ProtocolError{
			Op:   "transfer",
			Kind: ErrInvalidArgument,
			Err:  fmt.Errorf("message length %d outside 1..%d", len(message), MaxMessageSize),
		}
	}
	return nil
}

func (p *MailboxProtocol) roundTrip(ctx context.Context, message []byte) ([]byte, error) {
	p.setTransferState(TransferMailboxCheck)
	if err := p.checkAndRepair(ctx); err != nil {
		return nil, err
	}

	p.setTransferState(TransferWriting)
	if err := p.writeMessage(ctx, message); err != nil {
		return nil, err
	}

	// The mailbox flag only becomes observable after the tag settles
	timing := p.Timing()
	if err := p.sleep(ctx, timing.PrePollDelay); err != nil {
		return nil, err
	}

	p.setTransferState(TransferPolling)
	if err := p.pollResponse(ctx, timing); err != nil {
		return nil, err
	}

	p.setTransferState(TransferReading)
	return p.readResponse(ctx)
}

// isLinkRetryable retries unsuccessful responses and transient link errors
func isLinkRetryable(err error) bool {
	return !isTagGone(err) && GetErrorType(err) != ErrorTypePermanent
}

// writeMessage writes message into the mailbox as [len-1][message...].
func (p *MailboxProtocol) writeMessage(ctx context.Context, message []byte) error {
	const op = "write message"

	payload := make([]byte, 1+len(message))
	payload[0] = byte(len(message) - 1)
	copy(payload[1:], message)

	var lastRaw []byte
	_, attempts, err := retry.Do(p.retryConfig(ctx, op, isLinkRetryable),
		func(int) (struct{}, error) {
			lastRaw = nil
			resp, err := p.exchange(ctx, op, FlagHighDataRate, p.commands.writeMessage, payload)
			if err != nil {
				return struct{}{}, err
			}
			lastRaw = resp.Raw()
			return struct{}{}, resp.RequireSuccess()
		})
	if err == nil {
		debugf("wrote %d byte message in %d attempt(s)", len(message), attempts)
		return nil
	}
	if !isLinkRetryable(err) {
		return err
	}

	return &ProtocolError{Op: op, Kind: ErrWriteFailed, Err: err, Raw: lastRaw, Attempts: attempts}
}

// pollResponse reads MB_CTRL_Dyn until the tag signals HOST_PUT_MSG. The
// delay between polls doubles each time, starting at PollDelayInitial.
func (p *MailboxProtocol) pollResponse(ctx context.Context, timing TimingParameters) error {
	const op = "poll mailbox"

	polls, err := retry.Poll(retry.PollConfig{
		InitialDelay: timing.PollDelayInitial,
		Budget:       timing.PollTimeoutTotal,
		Sleep: func(d time.Duration) error {
			return p.sleep(ctx, d)
		},
	}, func(int) (bool, error) {
		status, err := p.readRegister(ctx, RegisterMailboxControl)
		if err != nil {
			return false, err
		}
		return status.Has(HostPutMessage), nil
	})

	switch {
	case err == nil:
		debugf("response ready after %d poll(s)", polls)
		return nil
	case errors.Is(err, retry.ErrBudgetExhausted):
		return &ProtocolError{
			Op:       op,
			Kind:     ErrPollTimeout,
			Err:      fmt.Errorf("no response within %s", timing.PollTimeoutTotal),
			Attempts: polls,
		}
	default:
		return err
	}
}

// readResponse reads the pending message length and then the message.
// I/O failures are retried; a response of the wrong shape is not.
func (p *MailboxProtocol) readResponse(ctx context.Context) ([]byte, error) {
	const op = "read message"

	message, attempts, err := retry.Do(p.retryConfig(ctx, op, isLinkRetryable),
		func(int) ([]byte, error) {
			return p.readMessageOnce(ctx)
		})
	if err != nil {
		return nil, withAttempts(err, op, attempts)
	}
	return message, nil
}

func (p *MailboxProtocol) readMessageOnce(ctx context.Context) ([]byte, error) {
	lengthResp, err := p.exchange(ctx, "read message length", FlagHighDataRate, p.commands.readMessageLength, nil)
	if err != nil {
		return nil, err
	}
	if err := lengthResp.RequireSuccess(); err != nil {
		return nil, err
	}
	if len(lengthResp.Body) < 1 {
		return nil, &ProtocolError{
			Op: "read message length", Kind: ErrMalformedResponse,
			Err: errors.New("no length byte"), Raw: lengthResp.Raw(),
		}
	}

	// The tag reports the message length minus one, the same convention
	// as the write-message length byte.
	lengthField := lengthResp.Body[0]
	expected := int(lengthField) + 1

	msgResp, err := p.exchange(ctx, "read message", FlagHighDataRate, p.commands.readMessage,
		[]byte{0x00, lengthField})
	if err != nil {
		return nil, err
	}
	if err := msgResp.RequireSuccess(); err != nil {
		return nil, err
	}
	if len(msgResp.Body) != expected {
		return nil, &ProtocolError{
			Op:   "read message",
			Kind: ErrMalformedResponse,
			Err:  fmt.Errorf("announced %d bytes, received %d", expected, len(msgResp.Body)),
			Raw:  msgResp.Raw(),
		}
	}
	return msgResp.Body, nil
}
