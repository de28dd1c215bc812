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

import "time"

// Frame and message size limits.
const (
	// HeaderSize is the size of the flag, command and vendor header.
	HeaderSize = 3
	// MaxMessageSize is the largest message the mailbox can hold.
	MaxMessageSize = 255
	// MaxPayloadSize is the largest command payload: a write-message length
	// byte followed by a full mailbox.
	MaxPayloadSize = MaxMessageSize + 1
	// mailboxTagIDLength is the UID length of ISO 15693 tags.
	mailboxTagIDLength = 8
)

// Local retry constants. Every retry site has its own budget; a transfer
// as a whole is never retried.
const (
	// DefaultRetryAttempts is the attempt budget for register reads,
	// message writes and message reads.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the fixed delay between those attempts.
	DefaultRetryDelay = 50 * time.Millisecond
	// DefaultConnectAttempts is the number of attempts to open the link.
	DefaultConnectAttempts = 3
)

// Mailbox timing constants.
const (
	// DefaultPrePollDelay is the settle time between a write and the first
	// mailbox poll.
	DefaultPrePollDelay = 50 * time.Millisecond
	// HarvestingPrePollDelay replaces DefaultPrePollDelay while the tag is
	// powered from the field.
	HarvestingPrePollDelay = 70 * time.Millisecond
	// DefaultPollDelayInitial is the first poll backoff delay. It doubles
	// after every poll that finds no response.
	DefaultPollDelayInitial = 50 * time.Millisecond
	// DefaultPollTimeoutTotal bounds the cumulative poll backoff.
	DefaultPollTimeoutTotal = 2000 * time.Millisecond
)
