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
	"time"
)

// ConnectionState is the logical state of a tag connection
type ConnectionState int

const (
	// StateDisconnected means no session is open
	StateDisconnected ConnectionState = iota
	// StateConnecting means a connect is in progress
	StateConnecting
	// StateConnected means the session is open
	StateConnected
	// StateDisconnecting means the session is being closed
	StateDisconnecting
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// connection is the connection state machine. Only the session methods
// below move it between states.
type connection struct {
	listener StateListener
	// sessionCtx is cancelled when the session ends so that waits inside
	// a transfer return immediately.
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	mu            sync.Mutex
	state         ConnectionState
}

func newConnection(listener StateListener) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &connection{
		listener:      listener,
		state:         StateDisconnected,
		sessionCtx:    ctx,
		sessionCancel: cancel,
	}
}

func (c *connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) transition(to ConnectionState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	switch to {
	case StateConnected:
		if from != StateConnected {
			c.sessionCtx, c.sessionCancel = context.WithCancel(context.Background())
		}
	case StateConnecting, StateDisconnecting, StateDisconnected:
		c.sessionCancel()
	}
	listener := c.listener
	c.mu.Unlock()

	if from == to {
		return
	}
	debugf("connection state %s -> %s", from, to)
	if listener != nil {
		listener(from, to)
	}
}

// bind derives a context that is also cancelled when the current session
// ends.
func (c *connection) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	sessionCtx := c.sessionCtx
	c.mu.Unlock()

	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sessionCtx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

// session is the connection manager shared by both protocol variants. It
// owns the link lifecycle and the connection state machine.
type session struct {
	link    RawLink
	conn    *connection
	config  *Config
	tagID   []byte
	mu      sync.Mutex
	timeout time.Duration
}

func newSession(link RawLink, config *Config) *session {
	return &session{
		link:    link,
		conn:    newConnection(config.StateListener),
		config:  config,
		timeout: config.ConnectionTimeout,
	}
}

// State returns the logical connection state
func (s *session) State() ConnectionState {
	return s.conn.State()
}

// IsConnected returns true while the logical connection is open
func (s *session) IsConnected() bool {
	return s.conn.State() == StateConnected
}

// TagID returns the identifier the protocol was opened for, if any
func (s *session) TagID() []byte {
	return append([]byte(nil), s.tagID...)
}

// IsSameTag reports whether tagID identifies the tag this protocol was
// opened for.
func (s *session) IsSameTag(tagID []byte) bool {
	return len(s.tagID) > 0 && bytes.Equal(s.tagID, tagID)
}

// SetConnectionTimeout sets the link timeout in milliseconds. It takes
// effect on the next connect. Negative values leave the current setting.
func (s *session) SetConnectionTimeout(timeoutMillis int) {
	if timeoutMillis < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = time.Duration(timeoutMillis) * time.Millisecond
}

func (s *session) connectionTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// connect opens the link with retry. Every attempt first closes whatever
// session the link may still hold, because platforms refuse to open a tag
// while another technology session is open. afterOpen runs on the fresh
// session and its failure fails the attempt.
func (s *session) connect(ctx context.Context, afterOpen func(context.Context) error) error {
	s.conn.transition(StateConnecting)

	attempts := s.config.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		made = attempt

		debugf("connection attempt %d/%d", attempt, attempts)
		err := s.openOnce(ctx, afterOpen)
		if err == nil {
			s.conn.transition(StateConnected)
			return nil
		}
		lastErr = err
		debugf("connection attempt %d failed: %v", attempt, err)
	}

	s.closeQuietly()
	s.conn.transition(StateDisconnected)
	return &ProtocolError{Op: "connect", Kind: ErrTagUnreachable, Err: lastErr, Attempts: made}
}

func (s *session) openOnce(ctx context.Context, afterOpen func(context.Context) error) error {
	s.closeQuietly()

	if err := s.link.Connect(); err != nil {
		return fmt.Errorf("link connect failed: %w", err)
	}

	if timeout := s.connectionTimeout(); timeout > 0 {
		if ts, ok := s.link.(TimeoutSetter); ok {
			if err := ts.SetTimeout(timeout); err != nil {
				return fmt.Errorf("failed to set link timeout: %w", err)
			}
		}
	}

	if afterOpen != nil {
		return afterOpen(ctx)
	}
	return nil
}

// closeQuietly closes the link and only logs a failure
func (s *session) closeQuietly() {
	if err := s.link.Close(); err != nil {
		debugf("ignoring link close error: %v", err)
	}
}

// disconnect closes the link best-effort and always ends in
// StateDisconnected.
func (s *session) disconnect() {
	if s.conn.State() == StateDisconnected {
		s.closeQuietly()
		return
	}
	s.conn.transition(StateDisconnecting)
	s.closeQuietly()
	s.conn.transition(StateDisconnected)
}

// forceDisconnect is the single transition used by error handlers once the
// tag is considered gone.
func (s *session) forceDisconnect(cause error) {
	debugf("forcing disconnect: %v", cause)
	s.disconnect()
}

// ensureConnected resumes a session whose link dropped while the logical
// state still says connected. Otherwise a closed link is ErrNotConnected.
func (s *session) ensureConnected(ctx context.Context, afterOpen func(context.Context) error) error {
	linkUp := s.link.IsConnected()
	state := s.conn.State()

	switch {
	case linkUp && state == StateConnected:
		return nil
	case !linkUp && state == StateConnected:
		debugln("link dropped while connected, reconnecting")
		return s.connect(ctx, afterOpen)
	case !linkUp:
		s.conn.transition(StateDisconnected)
		return newProtocolError("transfer", ErrNotConnected, errors.New("link is closed"))
	default:
		return newProtocolError("transfer", ErrNotConnected,
			fmt.Errorf("connection is %s", state))
	}
}

// exchange sends one command frame and decodes the response. Link errors
// come back typed: ErrTagLost, ErrLinkTimeout or ErrLinkFailure.
func (s *session) exchange(ctx context.Context, op string, flag, code byte, payload []byte) (ResponseFrame, error) {
	request, err := EncodeCommand(flag, code, VendorST, payload)
	if err != nil {
		return ResponseFrame{}, err
	}

	raw, err := exchangeContext(ctx, s.link, request)
	if err != nil {
		return ResponseFrame{}, linkError(op, err)
	}
	debugf("%s: >%X <%X", op, request, raw)

	resp, err := DecodeResponse(raw)
	if err != nil {
		return ResponseFrame{}, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}
