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
	"fmt"
	"sync"
	"time"
)

// MockLink is a scriptable RawLink for tests. ExchangeFunc answers every
// exchange; ConnectFunc and CloseFunc may inject failures.
type MockLink struct {
	ExchangeFunc func(request []byte) ([]byte, error)
	// ConnectFunc receives the 1-based connect call number
	ConnectFunc  func(call int) error
	CloseFunc    func() error
	requests     [][]byte
	timeouts     []time.Duration
	connectCalls int
	closeCalls   int
	mu           sync.Mutex
	connected    bool
}

// NewMockLink creates a mock link answering exchanges with fn
func NewMockLink(fn func(request []byte) ([]byte, error)) *MockLink {
	return &MockLink{ExchangeFunc: fn}
}

// Connect implements RawLink
func (m *MockLink) Connect() error {
	m.mu.Lock()
	m.connectCalls++
	call := m.connectCalls
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(call); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close implements RawLink
func (m *MockLink) Close() error {
	m.mu.Lock()
	m.closeCalls++
	m.connected = false
	fn := m.CloseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// IsConnected implements RawLink
func (m *MockLink) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Exchange implements RawLink
func (m *MockLink) Exchange(request []byte) ([]byte, error) {
	m.mu.Lock()
	connected := m.connected
	m.requests = append(m.requests, append([]byte(nil), request...))
	fn := m.ExchangeFunc
	m.mu.Unlock()

	if !connected {
		return nil, fmt.Errorf("mock link closed: %w", ErrTagLost)
	}
	if fn == nil {
		return []byte{0x00}, nil
	}
	return fn(request)
}

// SetTimeout implements TimeoutSetter
func (m *MockLink) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = append(m.timeouts, timeout)
	return nil
}

// Drop simulates the platform closing the link behind the protocol's back
func (m *MockLink) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// ConnectCalls returns the number of Connect calls
func (m *MockLink) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// CloseCalls returns the number of Close calls
func (m *MockLink) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// Requests returns a copy of every request frame seen so far
func (m *MockLink) Requests() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.requests))
	copy(out, m.requests)
	return out
}

// CountCommand returns how many requests carried the given command code
func (m *MockLink) CountCommand(code byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if len(r) > 1 && r[1] == code {
			n++
		}
	}
	return n
}

// Timeouts returns every timeout applied through SetTimeout
func (m *MockLink) Timeouts() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timeouts...)
}

// BlockingMockLink is a link whose exchanges block until Unblock or Close
// is called. It is used to test disconnects during a transfer.
type BlockingMockLink struct {
	blockChan chan struct{}
	entered   chan struct{}
	Response  []byte
	mu        sync.Mutex
	connected bool
}

// NewBlockingMockLink creates a new blocking mock link
func NewBlockingMockLink() *BlockingMockLink {
	return &BlockingMockLink{
		blockChan: make(chan struct{}),
		entered:   make(chan struct{}, 16),
		Response:  []byte{0x00},
	}
}

// Connect implements RawLink
func (m *BlockingMockLink) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.blockChan = make(chan struct{})
	return nil
}

// Close unblocks every pending exchange with ErrTagLost
func (m *BlockingMockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.connected = false
		close(m.blockChan)
	}
	return nil
}

// IsConnected implements RawLink
func (m *BlockingMockLink) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Exchange blocks until Unblock or Close
func (m *BlockingMockLink) Exchange([]byte) ([]byte, error) {
	m.mu.Lock()
	blockChan := m.blockChan
	connected := m.connected
	m.mu.Unlock()

	if !connected {
		return nil, fmt.Errorf("blocking mock link closed: %w", ErrTagLost)
	}

	m.entered <- struct{}{}
	<-blockChan

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("blocking mock link closed: %w", ErrTagLost)
	}
	return append([]byte(nil), m.Response...), nil
}

// Unblock releases the exchanges currently waiting
func (m *BlockingMockLink) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		close(m.blockChan)
		m.blockChan = make(chan struct{})
	}
}

// Entered is signalled every time an exchange starts blocking
func (m *BlockingMockLink) Entered() <-chan struct{} {
	return m.entered
}

// RecordingClock is a Clock that records every wait and returns at once
type RecordingClock struct {
	sleeps []time.Duration
	mu     sync.Mutex
}

// Sleep records d. It still reports a cancelled context.
func (c *RecordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sleep interrupted: %w", err)
	}
	return nil
}

// Sleeps returns every recorded wait in order
func (c *RecordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Total returns the sum of the recorded waits
func (c *RecordingClock) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

// Reset forgets the recorded waits
func (c *RecordingClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = nil
}
