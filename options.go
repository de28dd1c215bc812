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
	"fmt"
	"time"
)

// TimingParameters holds the mailbox timing. The protocol owns one copy per
// connection and recalibrates it from the energy harvesting register on
// every connect.
type TimingParameters struct {
	// PrePollDelay is slept once between a write and the first poll
	PrePollDelay time.Duration
	// PollDelayInitial is the first poll backoff delay
	PollDelayInitial time.Duration
	// PollTimeoutTotal bounds the cumulative poll backoff
	PollTimeoutTotal time.Duration
}

// DefaultTimingParameters returns the timing used by a tag that is not
// harvesting energy.
func DefaultTimingParameters() TimingParameters {
	return TimingParameters{
		PrePollDelay:     DefaultPrePollDelay,
		PollDelayInitial: DefaultPollDelayInitial,
		PollTimeoutTotal: DefaultPollTimeoutTotal,
	}
}

// StateListener is notified of every connection state transition.
type StateListener func(from, to ConnectionState)

// Config contains configuration options for a protocol instance
type Config struct {
	// Clock performs every protocol wait
	Clock Clock
	// StateListener receives connection state transitions
	StateListener StateListener
	// Timing is the baseline timing before harvesting calibration
	Timing TimingParameters
	// ConnectionTimeout is applied to links implementing TimeoutSetter on
	// connect. Zero leaves the link default.
	ConnectionTimeout time.Duration
	// RetryDelay is the fixed delay between local retry attempts
	RetryDelay time.Duration
	// RetryAttempts is the attempt budget of each local retry site
	RetryAttempts int
	// ConnectAttempts is the number of attempts to open the link
	ConnectAttempts int
	// FastCommands selects the fast transfer command set
	FastCommands bool
}

// DefaultConfig returns default protocol configuration
func DefaultConfig() *Config {
	return &Config{
		Clock:           RealClock(),
		Timing:          DefaultTimingParameters(),
		RetryAttempts:   DefaultRetryAttempts,
		RetryDelay:      DefaultRetryDelay,
		ConnectAttempts: DefaultConnectAttempts,
	}
}

func (c *Config) commands() commandSet {
	if c.FastCommands {
		return fastCommands
	}
	return standardCommands
}

// Option is a functional option for configuring a protocol
type Option func(*Config) error

// WithClock sets the clock used for every protocol wait
func WithClock(clock Clock) Option {
	return func(c *Config) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidArgument)
		}
		c.Clock = clock
		return nil
	}
}

// WithStateListener registers a listener for connection state transitions
func WithStateListener(listener StateListener) Option {
	return func(c *Config) error {
		c.StateListener = listener
		return nil
	}
}

// WithTiming sets the baseline mailbox timing
func WithTiming(timing TimingParameters) Option {
	return func(c *Config) error {
		if timing.PrePollDelay < 0 || timing.PollDelayInitial <= 0 || timing.PollTimeoutTotal <= 0 {
			return fmt.Errorf("%w: timing %+v", ErrInvalidArgument, timing)
		}
		c.Timing = timing
		return nil
	}
}

// WithConnectionTimeout sets the link timeout applied on connect
func WithConnectionTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative connection timeout", ErrInvalidArgument)
		}
		c.ConnectionTimeout = timeout
		return nil
	}
}

// WithRetryPolicy sets the attempt budget and delay of the local retry sites
func WithRetryPolicy(attempts int, delay time.Duration) Option {
	return func(c *Config) error {
		if attempts < 1 || delay < 0 {
			return fmt.Errorf("%w: retry policy %d/%s", ErrInvalidArgument, attempts, delay)
		}
		c.RetryAttempts = attempts
		c.RetryDelay = delay
		return nil
	}
}

// WithConnectAttempts sets the number of attempts to open the link
func WithConnectAttempts(attempts int) Option {
	return func(c *Config) error {
		if attempts < 1 {
			return fmt.Errorf("%w: connect attempts %d", ErrInvalidArgument, attempts)
		}
		c.ConnectAttempts = attempts
		return nil
	}
}

// WithFastCommands selects the fast transfer command set
func WithFastCommands() Option {
	return func(c *Config) error {
		c.FastCommands = true
		return nil
	}
}

func applyOptions(opts []Option) (*Config, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return config, nil
}
