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
)

// DirectProtocol passes each message to the tag in a single exchange and
// returns the answer. It has no mailbox and no polling.
type DirectProtocol struct {
	*session
	mu sync.Mutex
}

// NewDirectProtocol creates a direct protocol on top of link
func NewDirectProtocol(link RawLink, opts ...Option) (*DirectProtocol, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: nil link", ErrInvalidArgument)
	}

	config, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &DirectProtocol{session: newSession(link, config)}, nil
}

// Variant returns VariantDirect
func (*DirectProtocol) Variant() ProtocolVariant {
	return VariantDirect
}

// Connect opens the link
func (p *DirectProtocol) Connect() error {
	return p.ConnectContext(context.Background())
}

// ConnectContext opens the link with context support
func (p *DirectProtocol) ConnectContext(ctx context.Context) error {
	return p.connect(ctx, nil)
}

// Disconnect closes the link; close errors are logged and swallowed
func (p *DirectProtocol) Disconnect() error {
	p.disconnect()
	return nil
}

// Transfer exchanges message with the tag
func (p *DirectProtocol) Transfer(message []byte) ([]byte, error) {
	return p.TransferContext(context.Background(), message)
}

// TransferContext exchanges message with the tag with context support
func (p *DirectProtocol) TransferContext(ctx context.Context, message []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, newProtocolError("transfer", ErrInvalidArgument, fmt.Errorf("empty message"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(ctx, nil); err != nil {
		return nil, p.handleFailure(ctx, err)
	}

	sctx, stop := p.conn.bind(ctx)
	defer stop()

	response, err := exchangeContext(sctx, p.link, message)
	if err != nil {
		return nil, p.handleFailure(ctx, linkError("transfer", err))
	}
	return response, nil
}
