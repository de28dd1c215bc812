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

// Package hostside serves the wired side of an ST25DV fast transfer mode
// mailbox over I2C. It is the counterpart of the st25dv mailbox protocol:
// the reader writes a message from the RF side, the responder reads it
// over I2C, hands it to a Handler and writes the reply back.
package hostside

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// Address is the 7-bit I2C address of the user memory, dynamic
	// registers and mailbox
	Address = 0x53

	// RegMailboxControl is MB_CTRL_Dyn
	RegMailboxControl uint16 = 0x2006
	// RegMailboxLength is MB_LEN_Dyn, the message length minus one
	RegMailboxLength uint16 = 0x2007
	// MailboxRAM is the first byte of the 256 byte mailbox
	MailboxRAM uint16 = 0x2008

	// MaxMessageSize is the mailbox capacity
	MaxMessageSize = 256

	// DefaultPollInterval is the wait between MB_CTRL_Dyn polls in Serve
	DefaultPollInterval = 10 * time.Millisecond

	maxClockFreq = 400 * physic.KiloHertz
)

// MB_CTRL_Dyn bits seen from the wired side
const (
	mbEnabled = 0x01
	mbRfPut   = 0x04
)

var (
	// ErrMailboxDisabled means the RF side has not enabled the mailbox
	ErrMailboxDisabled = errors.New("mailbox disabled")
	// ErrReplyTooLarge means the handler reply does not fit the mailbox
	ErrReplyTooLarge = errors.New("reply too large")
)

// Handler produces the reply to a message. An empty reply leaves the
// mailbox empty and the reader times out.
type Handler func(message []byte) []byte

// Option configures a Responder
type Option func(*Responder)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Responder) {
		r.logger = logger
	}
}

// WithPollInterval sets the wait between polls in Serve
func WithPollInterval(interval time.Duration) Option {
	return func(r *Responder) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// Responder answers mailbox messages on the wired side
type Responder struct {
	dev          *i2c.Dev
	closer       i2c.BusCloser
	handler      Handler
	logger       zerolog.Logger
	pollInterval time.Duration
}

// Open opens the named I2C bus and creates a responder on it
func Open(busName string, handler Handler, opts ...Option) (*Responder, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	r, err := NewResponder(bus, handler, opts...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	r.closer = bus
	return r, nil
}

// NewResponder creates a responder on an open bus
func NewResponder(bus i2c.Bus, handler Handler, opts ...Option) (*Responder, error) {
	if bus == nil || handler == nil {
		return nil, errors.New("hostside: bus and handler are required")
	}

	r := &Responder{
		dev:          &i2c.Dev{Addr: Address, Bus: bus},
		handler:      handler,
		logger:       zerolog.Nop(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the bus if the responder opened it
func (r *Responder) Close() error {
	if r.closer == nil {
		return nil
	}
	if err := r.closer.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

// ServeOnce handles at most one pending message. It reports whether a
// message was handled.
func (r *Responder) ServeOnce() (bool, error) {
	ctrl, err := r.readRegister(RegMailboxControl, 1)
	if err != nil {
		return false, err
	}
	if ctrl[0]&mbEnabled == 0 {
		return false, ErrMailboxDisabled
	}
	if ctrl[0]&mbRfPut == 0 {
		return false, nil
	}

	length, err := r.readRegister(RegMailboxLength, 1)
	if err != nil {
		return false, err
	}
	message, err := r.readRegister(MailboxRAM, int(length[0])+1)
	if err != nil {
		return false, err
	}
	r.logger.Debug().Int("len", len(message)).Hex("msg", message).Msg("mailbox message received")

	reply := r.handler(message)
	if len(reply) == 0 {
		r.logger.Debug().Msg("handler returned no reply")
		return true, nil
	}
	if len(reply) > MaxMessageSize {
		return true, fmt.Errorf("%w: %d bytes", ErrReplyTooLarge, len(reply))
	}

	if err := r.writeMailbox(reply); err != nil {
		return true, err
	}
	r.logger.Debug().Int("len", len(reply)).Msg("reply written")
	return true, nil
}

// Serve handles messages until ctx is done. I/O errors are logged and
// polling continues.
func (r *Responder) Serve(ctx context.Context) error {
	for {
		handled, err := r.ServeOnce()
		switch {
		case errors.Is(err, ErrMailboxDisabled):
			r.logger.Trace().Msg("mailbox disabled, waiting for reader")
		case err != nil:
			r.logger.Warn().Err(err).Msg("mailbox service failed")
		}
		if handled && err == nil {
			// Serve the next message without waiting, unless stopped
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Responder) readRegister(addr uint16, n int) ([]byte, error) {
	var w [2]byte
	binary.BigEndian.PutUint16(w[:], addr)
	buf := make([]byte, n)
	if err := r.dev.Tx(w[:], buf); err != nil {
		return nil, fmt.Errorf("I2C read of 0x%04X failed: %w", addr, err)
	}
	return buf, nil
}

func (r *Responder) writeMailbox(reply []byte) error {
	w := make([]byte, 2+len(reply))
	binary.BigEndian.PutUint16(w, MailboxRAM)
	copy(w[2:], reply)
	if _, err := r.dev.Write(w); err != nil {
		return fmt.Errorf("I2C mailbox write failed: %w", err)
	}
	return nil
}
