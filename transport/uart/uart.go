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

// Package uart provides a RawLink over a serial ISO 15693 reader bridge.
//
// The bridge speaks information frames (see internal/frame). Every host
// command is acknowledged with an ACK frame and answered with a response
// frame whose data is [command+1][status][payload...].
//
// The command set (0x01 activate, 0x02 release, 0x03 transceive) and the
// status codes are this package's own convention, not the wire protocol of
// any existing reader product. Bridge firmware has to implement them; the
// tests use a simulated bridge.
package uart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	st25dv "github.com/ZaparooProject/go-st25dv"
	"github.com/ZaparooProject/go-st25dv/internal/frame"
	"go.bug.st/serial"
)

// Bridge commands
const (
	cmdActivate   = 0x01
	cmdRelease    = 0x02
	cmdTransceive = 0x03
)

// Bridge status codes
const (
	statusOK       = 0x00
	statusNoTag    = 0x01
	statusTimeout  = 0x02
	statusCRC      = 0x03
	statusSecurity = 0x04
)

const (
	// DefaultBaudRate is the bridge's factory baud rate
	DefaultBaudRate = 115200
	// DefaultTimeout bounds one bridge command
	DefaultTimeout = 250 * time.Millisecond

	// readSlice is the serial read timeout. Reads are chained until the
	// command timeout so that a cancelled context is noticed quickly.
	readSlice   = 10 * time.Millisecond
	maxNacks    = 3
	readBufSize = 512
)

// ErrBridge is returned for bridge level failures
var ErrBridge = errors.New("bridge error")

// Transport implements st25dv.RawLink for a serial bridge
type Transport struct {
	port     serial.Port
	open     func(name string, mode *serial.Mode) (serial.Port, error)
	portName string
	uid      []byte
	baudRate int
	timeout  time.Duration
	mu       sync.Mutex
	active   bool
}

// New creates a transport for the bridge on portName. The port is opened
// on the first Connect.
func New(portName string, baudRate int) (*Transport, error) {
	if portName == "" {
		return nil, fmt.Errorf("%w: empty port name", st25dv.ErrInvalidArgument)
	}
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Transport{
		portName: portName,
		baudRate: baudRate,
		timeout:  DefaultTimeout,
		open:     serial.Open,
	}, nil
}

// NewWithPort creates a transport over an already opened port
func NewWithPort(port serial.Port) *Transport {
	return &Transport{
		port:     port,
		portName: "port",
		timeout:  DefaultTimeout,
	}
}

// PortName returns the serial port the transport talks to
func (t *Transport) PortName() string {
	return t.portName
}

// UID returns the identifier reported by the last activation
func (t *Transport) UID() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.uid...)
}

// Connect activates the tag in the field
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensurePort(); err != nil {
		return err
	}

	uid, err := t.command(context.Background(), cmdActivate, nil)
	if err != nil {
		return fmt.Errorf("tag activation failed: %w", err)
	}
	t.uid = uid
	t.active = true
	return nil
}

// Close releases the tag. The port stays open for the next Connect.
// Closing an inactive transport does nothing.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return nil
	}
	t.active = false
	if _, err := t.command(context.Background(), cmdRelease, nil); err != nil {
		return fmt.Errorf("tag release failed: %w", err)
	}
	return nil
}

// Shutdown releases the tag and closes the serial port
func (t *Transport) Shutdown() error {
	closeErr := t.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return closeErr
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return closeErr
}

// IsConnected returns true while a tag is activated
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// SetTimeout sets the time allowed for one bridge command
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout %s", st25dv.ErrInvalidArgument, timeout)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Exchange forwards one ISO 15693 request to the tag
func (t *Transport) Exchange(request []byte) ([]byte, error) {
	return t.ExchangeContext(context.Background(), request)
}

// ExchangeContext forwards one ISO 15693 request with context support
func (t *Transport) ExchangeContext(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return nil, fmt.Errorf("%w: no active tag on %s", st25dv.ErrTagLost, t.portName)
	}

	resp, err := t.command(ctx, cmdTransceive, request)
	if errors.Is(err, st25dv.ErrTagLost) || errors.Is(err, st25dv.ErrLinkSecurity) {
		t.active = false
	}
	return resp, err
}

func (t *Transport) ensurePort() error {
	if t.port != nil {
		return nil
	}

	port, err := t.open(t.portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(readSlice); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	t.port = port
	return nil
}

// command sends one bridge command and returns the response payload. The
// caller holds t.mu.
func (t *Transport) command(ctx context.Context, cmd byte, data []byte) ([]byte, error) {
	if t.port == nil {
		return nil, fmt.Errorf("%w: port %s not open", ErrBridge, t.portName)
	}

	out, err := frame.Build(frame.HostToBridge, append([]byte{cmd}, data...))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", st25dv.ErrInvalidArgument, err)
	}
	// Drop a late answer to an abandoned command
	if err := t.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if _, err := t.port.Write(out); err != nil {
		return nil, fmt.Errorf("serial write failed: %w", err)
	}

	deadline := time.Now().Add(t.timeout)
	resp, err := t.readResponse(ctx, deadline)
	if err != nil {
		return nil, err
	}
	return checkResponse(cmd, resp)
}

// readResponse reads the ACK and then the response frame. Corrupted
// frames are NACKed, which makes the bridge send them again.
func (t *Transport) readResponse(ctx context.Context, deadline time.Time) ([]byte, error) {
	buf := make([]byte, 0, readBufSize)
	chunk := make([]byte, readBufSize)
	acked := false
	nacks := 0

	for {
		if !acked && len(buf) >= frame.AckLength {
			if !frame.IsAck(buf) {
				return nil, fmt.Errorf("%w: expected ACK, got % X", ErrBridge, buf[:frame.AckLength])
			}
			buf = buf[frame.AckLength:]
			acked = true
		}
		if acked {
			tfi, data, _, err := frame.Parse(buf)
			switch {
			case err == nil:
				if tfi != frame.BridgeToHost {
					return nil, fmt.Errorf("%w: unexpected TFI 0x%02X", ErrBridge, tfi)
				}
				return data, nil
			case errors.Is(err, frame.ErrCorrupted):
				nacks++
				if nacks > maxNacks {
					return nil, fmt.Errorf("%w: %w", ErrBridge, err)
				}
				buf = buf[:0]
				if _, werr := t.port.Write(frame.NackFrame); werr != nil {
					return nil, fmt.Errorf("failed to send NACK: %w", werr)
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: no bridge response on %s", st25dv.ErrLinkTimeout, t.portName)
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("serial read failed: %w", err)
		}
		buf = append(buf, chunk[:n]...)
	}
}

func checkResponse(cmd byte, data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short response % X", ErrBridge, data)
	}
	if data[0] != cmd+1 {
		return nil, fmt.Errorf("%w: response 0x%02X to command 0x%02X", ErrBridge, data[0], cmd)
	}

	switch status := data[1]; status {
	case statusOK:
		return append([]byte(nil), data[2:]...), nil
	case statusNoTag:
		return nil, st25dv.ErrTagLost
	case statusTimeout:
		return nil, st25dv.ErrLinkTimeout
	case statusSecurity:
		return nil, st25dv.ErrLinkSecurity
	case statusCRC:
		return nil, fmt.Errorf("%w: RF CRC error", ErrBridge)
	default:
		return nil, fmt.Errorf("%w: status 0x%02X", ErrBridge, status)
	}
}

// Ensure Transport implements the link interfaces
var (
	_ st25dv.ContextLink   = (*Transport)(nil)
	_ st25dv.TimeoutSetter = (*Transport)(nil)
)
