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

// Package retry provides the bounded retry and backoff polling loops shared
// by every retry site of the mailbox protocol.
package retry

import (
	"errors"
	"time"
)

// ErrBudgetExhausted is returned by Poll when the cumulative backoff
// reached the configured budget without the condition becoming true.
var ErrBudgetExhausted = errors.New("poll budget exhausted")

// SleepFunc waits for d. It returns an error to abort the loop, for
// example when a context was cancelled.
type SleepFunc func(d time.Duration) error

// Operation is a single attempt. attempt starts at 1.
type Operation[T any] func(attempt int) (T, error)

// Config configures a bounded retry loop
type Config struct {
	// Retryable decides whether an attempt error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(err error) bool
	// OnRetry is called before sleeping ahead of the next attempt
	OnRetry func(attempt int, err error)
	// Sleep performs the inter-attempt delay. Defaults to time.Sleep.
	Sleep       SleepFunc
	Description string
	MaxAttempts int
	Delay       time.Duration
}

// Do runs op until it succeeds, returns an error that is not retryable, or
// the attempt budget is used up. It returns the last result, the number of
// attempts made and the last error.
func Do[T any](config Config, op Operation[T]) (T, int, error) {
	var zero T
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if config.Retryable != nil && !config.Retryable(err) {
			return zero, attempt, err
		}

		// If we should retry but we're at max attempts, break
		if attempt >= maxAttempts {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		if err := sleep(config.Sleep, config.Delay); err != nil {
			return zero, attempt, err
		}
	}

	return zero, maxAttempts, lastErr
}

// PollConfig configures a backoff polling loop
type PollConfig struct {
	Sleep        SleepFunc
	InitialDelay time.Duration
	// Budget bounds the cumulative time spent sleeping between polls
	Budget time.Duration
}

// Poll calls check until it reports true. The delay between polls starts
// at InitialDelay and doubles after every unsuccessful poll. Once the
// cumulative delay reaches Budget, Poll returns ErrBudgetExhausted. It
// returns the number of polls made.
func Poll(config PollConfig, check func(poll int) (bool, error)) (int, error) {
	delay := config.InitialDelay
	var waited time.Duration
	polls := 0

	for waited < config.Budget {
		polls++
		done, err := check(polls)
		if err != nil {
			return polls, err
		}
		if done {
			return polls, nil
		}

		if err := sleep(config.Sleep, delay); err != nil {
			return polls, err
		}
		waited += delay
		if delay <= 0 {
			// A zero initial delay would never reach the budget
			delay = time.Millisecond
		} else {
			delay *= 2
		}
	}

	return polls, ErrBudgetExhausted
}

func sleep(fn SleepFunc, d time.Duration) error {
	if fn != nil {
		return fn(d)
	}
	if d > 0 {
		time.Sleep(d)
	}
	return nil
}
