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
)

// Protocol is the capability shared by both protocol variants
type Protocol interface {
	// Connect opens the connection to the tag
	Connect() error

	// Disconnect closes the connection; it never fails
	Disconnect() error

	// IsConnected returns true while the connection is open
	IsConnected() bool

	// Transfer sends a message and returns the tag's response
	Transfer(message []byte) ([]byte, error)

	// TransferContext sends a message with context support
	TransferContext(ctx context.Context, message []byte) ([]byte, error)

	// Variant returns which protocol variant this is
	Variant() ProtocolVariant
}

// ProtocolVariant identifies a protocol implementation
type ProtocolVariant int

const (
	// VariantMailbox is the ISO 15693 fast transfer mode mailbox protocol
	VariantMailbox ProtocolVariant = iota
	// VariantDirect is the synchronous request/response exchange used by
	// tags without a mailbox
	VariantDirect
)

// String returns the variant name
func (v ProtocolVariant) String() string {
	switch v {
	case VariantMailbox:
		return "mailbox"
	case VariantDirect:
		return "direct"
	default:
		return fmt.Sprintf("ProtocolVariant(%d)", int(v))
	}
}

// SelectVariant picks the protocol variant for a tag identifier. ISO 15693
// tags have 8 byte UIDs and get the mailbox protocol; anything else gets
// the direct one.
func SelectVariant(tagID []byte) ProtocolVariant {
	if len(tagID) == mailboxTagIDLength {
		return VariantMailbox
	}
	return VariantDirect
}

// Open builds the protocol variant selected for tagID on top of link. The
// connection is not opened; call Connect.
func Open(tagID []byte, link RawLink, opts ...Option) (Protocol, error) {
	id := append([]byte(nil), tagID...)

	switch SelectVariant(tagID) {
	case VariantMailbox:
		p, err := NewMailboxProtocol(link, opts...)
		if err != nil {
			return nil, err
		}
		p.tagID = id
		debugf("opened mailbox protocol for tag %X", id)
		return p, nil
	default:
		p, err := NewDirectProtocol(link, opts...)
		if err != nil {
			return nil, err
		}
		p.tagID = id
		debugf("opened direct protocol for tag %X", id)
		return p, nil
	}
}

// Ensure both variants implement Protocol
var (
	_ Protocol = (*MailboxProtocol)(nil)
	_ Protocol = (*DirectProtocol)(nil)
)
