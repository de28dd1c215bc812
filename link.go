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
	"time"
)

// RawLink is the half-duplex request/response primitive the protocol runs
// on. It is owned by the platform: an Android NfcV handle, a serial bridge,
// a simulator in tests.
//
// Implementations should return errors wrapping ErrTagLost when the tag has
// left the field and ErrLinkSecurity when access to it was revoked. Any
// other error is treated as a transient I/O failure.
type RawLink interface {
	// Connect opens a session with the tag
	Connect() error

	// Close ends the session. A second Close must not fail.
	Close() error

	// IsConnected returns true while the session is open
	IsConnected() bool

	// Exchange sends one request frame and returns the tag's response frame
	Exchange(request []byte) ([]byte, error)
}

// TimeoutSetter is implemented by links whose per-exchange timeout can be
// changed. The configured connection timeout is applied on every connect.
type TimeoutSetter interface {
	SetTimeout(timeout time.Duration) error
}

// ContextLink is implemented by links that can abandon an exchange when a
// context is cancelled.
type ContextLink interface {
	RawLink

	// ExchangeContext sends one request frame with context support
	ExchangeContext(ctx context.Context, request []byte) ([]byte, error)
}

// exchangeContext runs one exchange, honouring ctx before the call and
// during it when the link supports that.
func exchangeContext(ctx context.Context, link RawLink, request []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled before exchange: %w", ctx.Err())
	default:
	}

	if cl, ok := link.(ContextLink); ok {
		resp, err := cl.ExchangeContext(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("link exchange failed: %w", err)
		}
		return resp, nil
	}

	resp, err := link.Exchange(request)
	if err != nil {
		return nil, fmt.Errorf("link exchange failed: %w", err)
	}
	return resp, nil
}
