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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	virt "github.com/ZaparooProject/go-st25dv/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVirtualProtocol(t *testing.T, tag *virt.VirtualTag, opts ...Option) (*MailboxProtocol, *RecordingClock) {
	t.Helper()

	clock := &RecordingClock{}
	p, err := NewMailboxProtocol(tag, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, p.Connect())
	clock.Reset()
	return p, clock
}

func ms(values ...int) []time.Duration {
	out := make([]time.Duration, len(values))
	for i, v := range values {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestTransferEcho(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, clock := newVirtualProtocol(t, tag)

	for _, size := range []int{1, 2, 64, MaxMessageSize} {
		msg := bytes.Repeat([]byte{byte(size)}, size)
		resp, err := p.Transfer(msg)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, msg, resp)
	}

	assert.Equal(t, TransferIdle, p.TransferState())
	assert.Equal(t, ms(50, 50, 50, 50), clock.Sleeps())
	// A successful transfer leaves the mailbox ready for the next write
	assert.Equal(t, virt.MBEnabled, tag.MailboxControl())
}

func TestTransferInvalidLengthDoesNoIO(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  []byte
	}{
		{name: "nil", msg: nil},
		{name: "empty", msg: []byte{}},
		{name: "too long", msg: make([]byte, MaxMessageSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			link := NewMockLink(nil)
			p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
			require.NoError(t, err)

			_, err = p.Transfer(tt.msg)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, link.Requests())
			assert.Zero(t, link.ConnectCalls())
		})
	}
}

func TestTransferRequiresConnection(t *testing.T) {
	t.Parallel()

	link := NewMockLink(nil)
	p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
	require.NoError(t, err)

	_, err = p.Transfer([]byte{0x01})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, link.Requests())
	assert.Equal(t, StateDisconnected, p.State())
}

func TestTransferMailboxUnavailable(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.StuckDisabled = true
	tag.SetMailboxEnabled(false)

	_, err := p.Transfer([]byte{0x01})
	require.ErrorIs(t, err, ErrMailboxUnavailable)

	// Exactly one disable/enable sequence and no message write
	assert.Equal(t, 2, tag.CountCommand(virt.CmdWriteDynConfig))
	assert.Zero(t, tag.CountCommand(virt.CmdWriteMessage))
	assert.Equal(t, TransferFailed, p.TransferState())
	assert.True(t, p.IsConnected())
}

func TestTransferRepairsDisabledMailbox(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.SetMailboxEnabled(false)

	resp, err := p.Transfer([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), resp)
	assert.Equal(t, 2, tag.CountCommand(virt.CmdWriteDynConfig))
}

func TestTransferClearsStaleMessage(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.InjectStaleMessage([]byte("old"))

	resp, err := p.Transfer([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), resp)
	assert.Equal(t, 2, tag.CountCommand(virt.CmdWriteDynConfig))
}

func TestTransferPollBackoff(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	tag.PollsBeforeResponse = 2
	p, clock := newVirtualProtocol(t, tag)

	resp, err := p.Transfer([]byte{0xAB})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB}, resp)

	// Pre-poll delay, then 50 and 100 ms between the three polls
	assert.Equal(t, ms(50, 50, 100), clock.Sleeps())
}

func TestTransferPollTimeout(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	tag.NeverRespond()
	p, clock := newVirtualProtocol(t, tag)

	_, err := p.Transfer([]byte{0x01})
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.True(t, IsRetryable(err))

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 6, pe.Attempts)

	assert.Equal(t, ms(50, 50, 100, 200, 400, 800, 1600), clock.Sleeps())
	assert.Equal(t, 1, tag.CountCommand(virt.CmdWriteMessage))
	assert.True(t, p.IsConnected())
}

func TestTransferRegisterReadRetry(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, clock := newVirtualProtocol(t, tag)
	tag.FailRegisterReads = 2

	resp, err := p.Transfer([]byte{0x42})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, resp)
	assert.Equal(t, ms(50, 50, 50), clock.Sleeps())
}

func TestTransferRegisterReadExhausted(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.FailRegisterReads = 3

	_, err := p.Transfer([]byte{0x42})
	require.ErrorIs(t, err, ErrCommandFailed)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Zero(t, tag.CountCommand(virt.CmdWriteMessage))
}

func TestTransferWriteRetry(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.FailWrites = 2

	resp, err := p.Transfer([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp)
	assert.Equal(t, 3, tag.CountCommand(virt.CmdWriteMessage))
}

func TestTransferWriteFailed(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, clock := newVirtualProtocol(t, tag)
	tag.FailWrites = 3

	_, err := p.Transfer([]byte{0x01})
	require.ErrorIs(t, err, ErrWriteFailed)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeUnknown), pe.Raw)

	// No fourth write and no sleep after the last attempt
	assert.Equal(t, 3, tag.CountCommand(virt.CmdWriteMessage))
	assert.Equal(t, ms(50, 50), clock.Sleeps())
}

func TestTransferReadRetry(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.FailMessageReads = 2

	resp, err := p.Transfer([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), resp)
	assert.Equal(t, 3, tag.CountCommand(virt.CmdReadMessage))
	assert.Equal(t, 3, tag.CountCommand(virt.CmdReadMessageLength))
}

func TestTransferReadExhausted(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.FailMessageReads = 3

	_, err := p.Transfer([]byte("abc"))
	require.ErrorIs(t, err, virt.ErrTransceive)
	require.ErrorIs(t, err, ErrLinkFailure)
	assert.Equal(t, 3, tag.CountCommand(virt.CmdReadMessage))

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
}

func TestTransferExhaustedLinkErrorsAreTyped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		linkErr error
		kind    error
		name    string
	}{
		{name: "io error", linkErr: errors.New("rf glitch"), kind: ErrLinkFailure},
		{name: "timeout", linkErr: fmt.Errorf("bridge: %w", ErrLinkTimeout), kind: ErrLinkTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var failing atomic.Bool
			healthy := scriptedTag([]byte{0x01}, nil)
			link := NewMockLink(func(req []byte) ([]byte, error) {
				if failing.Load() {
					return nil, tt.linkErr
				}
				return healthy(req)
			})
			p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
			require.NoError(t, err)
			require.NoError(t, p.Connect())
			failing.Store(true)

			_, err = p.Transfer([]byte{0x42})
			require.ErrorIs(t, err, tt.kind)
			require.ErrorIs(t, err, tt.linkErr)
			assert.True(t, IsRetryable(err))

			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, 3, pe.Attempts)
			assert.Equal(t, 4, len(link.Requests()))
			// The tag is still there, so the connection stays open
			assert.True(t, p.IsConnected())
		})
	}
}

func TestTransferWriteFailedKeepsLastAttemptResponse(t *testing.T) {
	t.Parallel()

	writes := 0
	link := NewMockLink(scriptedTag([]byte{0x01}, func(code byte) ([]byte, bool, error) {
		if code != cmdWriteMessage {
			return nil, false, nil
		}
		writes++
		if writes < 3 {
			return virt.BuildErrorResponse(virt.ErrorCodeUnknown), true, nil
		}
		return nil, true, errors.New("rf glitch")
	}))
	p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
	require.NoError(t, err)
	require.NoError(t, p.Connect())

	_, err = p.Transfer([]byte{0x42})
	require.ErrorIs(t, err, ErrWriteFailed)
	require.ErrorIs(t, err, ErrLinkFailure)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Nil(t, pe.Raw)
	assert.Equal(t, 3, writes)
}

// scriptedTag answers like a healthy ST25DV whose wired side replies with
// reply, letting a test override single commands.
func scriptedTag(reply []byte, override func(code byte) (resp []byte, handled bool, err error)) func([]byte) ([]byte, error) {
	var mu sync.Mutex
	pending := false
	return func(req []byte) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()

		code := req[1]
		if override != nil {
			if resp, handled, err := override(code); handled {
				return resp, err
			}
		}
		switch code {
		case cmdReadDynConfig, cmdFastReadDynConfig:
			if req[3] == byte(RegisterEnergyHarvesting) {
				return virt.BuildRegisterResponse(byte(FieldOn)), nil
			}
			if pending {
				return virt.BuildRegisterResponse(byte(MailboxEnabled | HostPutMessage | HostSideHasMessage)), nil
			}
			return virt.BuildRegisterResponse(byte(MailboxEnabled)), nil
		case cmdWriteMessage, cmdFastWriteMessage:
			pending = true
			return virt.BuildOKResponse(), nil
		case cmdReadMessageLength, cmdFastReadMsgLength:
			return virt.BuildMessageLengthResponse(len(reply)), nil
		case cmdReadMessage, cmdFastReadMessage:
			pending = false
			return virt.BuildMessageResponse(reply), nil
		default:
			return virt.BuildOKResponse(), nil
		}
	}
}

func TestTransferMalformedResponseNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		override func(code byte) ([]byte, bool, error)
	}{
		{
			name: "body shorter than announced",
			override: func(code byte) ([]byte, bool, error) {
				if code == cmdReadMessageLength {
					return virt.BuildMessageLengthResponse(4), true, nil
				}
				return nil, false, nil
			},
		},
		{
			name: "missing length byte",
			override: func(code byte) ([]byte, bool, error) {
				if code == cmdReadMessageLength {
					return virt.BuildOKResponse(), true, nil
				}
				return nil, false, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			link := NewMockLink(scriptedTag([]byte{0x01, 0x02}, tt.override))
			p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
			require.NoError(t, err)
			require.NoError(t, p.Connect())

			_, err = p.Transfer([]byte{0x01})
			require.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, 1, link.CountCommand(cmdReadMessageLength))
			assert.True(t, p.IsConnected())
		})
	}
}

func TestTransferReadMessagePayload(t *testing.T) {
	t.Parallel()

	link := NewMockLink(scriptedTag([]byte("pong!"), nil))
	p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
	require.NoError(t, err)
	require.NoError(t, p.Connect())

	resp, err := p.Transfer([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong!"), resp)

	var write, read []byte
	for _, req := range link.Requests() {
		switch req[1] {
		case cmdWriteMessage:
			write = req
		case cmdReadMessage:
			read = req
		}
	}
	assert.Equal(t, []byte{FlagHighDataRate, cmdWriteMessage, VendorST, 0x03, 'p', 'i', 'n', 'g'}, write)
	assert.Equal(t, []byte{FlagHighDataRate, cmdReadMessage, VendorST, 0x00, 0x04}, read)
}

func TestTransferFastCommands(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag, WithFastCommands())

	resp, err := p.Transfer([]byte{0x07})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07}, resp)

	for _, code := range tag.Commands() {
		assert.Contains(t, []byte{
			virt.CmdFastWriteMessage, virt.CmdFastReadMsgLength, virt.CmdFastReadMessage,
			virt.CmdFastReadDynConfig, virt.CmdFastWriteDynConfig,
		}, code)
	}
	assert.Equal(t, 1, tag.CountCommand(virt.CmdFastWriteMessage))
}

func TestTransferHarvestingCalibration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		harvesting bool
		want       time.Duration
	}{
		{name: "harvesting", harvesting: true, want: HarvestingPrePollDelay},
		{name: "wired supply", harvesting: false, want: DefaultPrePollDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tag := virt.NewVirtualST25DV(nil)
			tag.HarvestingEnabled = tt.harvesting
			p, clock := newVirtualProtocol(t, tag)
			assert.Equal(t, tt.want, p.Timing().PrePollDelay)

			for i := 0; i < 2; i++ {
				_, err := p.Transfer([]byte{byte(i + 1)})
				require.NoError(t, err)
			}
			assert.Equal(t, []time.Duration{tt.want, tt.want}, clock.Sleeps())
		})
	}
}

func TestTransferRecalibratesOnReconnect(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	tag.HarvestingEnabled = true
	p, _ := newVirtualProtocol(t, tag)
	require.Equal(t, HarvestingPrePollDelay, p.Timing().PrePollDelay)

	tag.HarvestingEnabled = false
	require.NoError(t, p.Disconnect())
	require.NoError(t, p.Connect())
	assert.Equal(t, DefaultPrePollDelay, p.Timing().PrePollDelay)
}

func TestTransferTagLostForcesDisconnect(t *testing.T) {
	t.Parallel()

	for _, cause := range []error{ErrTagLost, ErrLinkSecurity} {
		t.Run(cause.Error(), func(t *testing.T) {
			t.Parallel()

			var transitions []string
			var mu sync.Mutex
			listener := func(from, to ConnectionState) {
				mu.Lock()
				defer mu.Unlock()
				transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
			}

			link := NewMockLink(scriptedTag([]byte{0x01}, func(code byte) ([]byte, bool, error) {
				if code == cmdWriteMessage {
					return nil, true, fmt.Errorf("platform: %w", cause)
				}
				return nil, false, nil
			}))
			p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}), WithStateListener(listener))
			require.NoError(t, err)
			require.NoError(t, p.Connect())

			_, err = p.Transfer([]byte{0x01})
			require.ErrorIs(t, err, ErrTagLost)
			require.ErrorIs(t, err, cause)
			assert.False(t, IsRetryable(err))

			assert.Equal(t, 1, link.CountCommand(cmdWriteMessage))
			assert.Equal(t, StateDisconnected, p.State())
			assert.False(t, link.IsConnected())

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, []string{
				"disconnected->connecting",
				"connecting->connected",
				"connected->disconnecting",
				"disconnecting->disconnected",
			}, transitions)
		})
	}
}

func TestTransferReconnectsDroppedLink(t *testing.T) {
	t.Parallel()

	link := NewMockLink(scriptedTag([]byte{0x09}, nil))
	p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
	require.NoError(t, err)
	require.NoError(t, p.Connect())

	link.Drop()
	resp, err := p.Transfer([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09}, resp)
	assert.Equal(t, 2, link.ConnectCalls())
	assert.True(t, p.IsConnected())
}

func TestTransferReconnectFailure(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	p, _ := newVirtualProtocol(t, tag)
	tag.Remove()

	_, err := p.Transfer([]byte{0x01})
	require.ErrorIs(t, err, ErrTagUnreachable)
	assert.Equal(t, StateDisconnected, p.State())

	_, err = p.Transfer([]byte{0x01})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestTransferDisconnectDuringExchange(t *testing.T) {
	t.Parallel()

	link := NewBlockingMockLink()
	link.Response = virt.BuildRegisterResponse(0x00)
	p, err := NewMailboxProtocol(link, WithClock(&RecordingClock{}))
	require.NoError(t, err)

	go func() {
		<-link.Entered()
		link.Unblock()
	}()
	require.NoError(t, p.Connect())

	done := make(chan error, 1)
	go func() {
		_, err := p.Transfer([]byte{0x01})
		done <- err
	}()

	select {
	case <-link.Entered():
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never reached the link")
	}
	require.NoError(t, p.Disconnect())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTagLost)
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not return after disconnect")
	}
	assert.Equal(t, StateDisconnected, p.State())
}

func TestTransferDisconnectWakesPolling(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	tag.NeverRespond()
	p, err := NewMailboxProtocol(tag, WithTiming(TimingParameters{
		PrePollDelay:     time.Millisecond,
		PollDelayInitial: 20 * time.Millisecond,
		PollTimeoutTotal: time.Minute,
	}))
	require.NoError(t, err)
	require.NoError(t, p.Connect())

	done := make(chan error, 1)
	go func() {
		_, err := p.Transfer([]byte{0x01})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return p.TransferState() == TransferPolling
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, p.Disconnect())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("polling transfer did not wake up")
	}
}

func TestTransferCallerCancellation(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	tag.NeverRespond()
	p, err := NewMailboxProtocol(tag, WithTiming(TimingParameters{
		PrePollDelay:     time.Millisecond,
		PollDelayInitial: 20 * time.Millisecond,
		PollTimeoutTotal: time.Minute,
	}))
	require.NoError(t, err)
	require.NoError(t, p.Connect())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.TransferContext(ctx, []byte{0x01})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, ErrNotConnected))
	assert.True(t, p.IsConnected())
}

func TestTransferStateString(t *testing.T) {
	t.Parallel()

	names := map[TransferState]string{
		TransferIdle:         "idle",
		TransferConnecting:   "connecting",
		TransferMailboxCheck: "mailbox-check",
		TransferWriting:      "writing",
		TransferPolling:      "polling",
		TransferReading:      "reading",
		TransferFailed:       "failed",
		TransferState(42):    "TransferState(42)",
	}
	for state, want := range names {
		assert.Equal(t, want, state.String())
	}
}
