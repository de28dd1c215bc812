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

/*
Package st25dv implements the host side of the ST25DV fast transfer mode
mailbox protocol.

An ST25DV dynamic NFC tag carries a 256 byte mailbox shared between the
RF interface and a microcontroller wired to the tag over I2C. A reader
writes a message into the mailbox with an ISO 15693 custom command, polls
the mailbox control register until the wired side has put its answer
there, and reads the answer back. This package drives that exchange over
any RawLink: a serial bridge (see transport/uart), an Android NfcV handle
behind a binding, or the simulator in internal/testing.

Tags without a mailbox are served by DirectProtocol, which passes each
message to the tag in one exchange. Open picks the variant from the tag
identifier.

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-st25dv"
	    "github.com/ZaparooProject/go-st25dv/transport/uart"
	)

	link, err := uart.New("/dev/ttyUSB0", uart.DefaultBaudRate)
	if err != nil {
	    log.Fatal(err)
	}
	defer link.Shutdown()

	p, err := st25dv.Open(tagID, link, st25dv.WithConnectionTimeout(time.Second))
	if err != nil {
	    log.Fatal(err)
	}
	if err := p.Connect(); err != nil {
	    log.Fatal(err)
	}
	defer p.Disconnect()

	response, err := p.TransferContext(ctx, []byte{0x01, 0x02})
	if err != nil {
	    if st25dv.IsRetryable(err) {
	        // a later transfer may succeed
	    }
	    log.Fatal(err)
	}

Retries:

Each step of a transfer has its own small retry budget: register reads,
mailbox writes and message reads are attempted three times 50ms apart.
Mailbox polling backs off from 50ms, doubling, until 2000ms of waiting has
passed. A transfer as a whole is never retried; IsRetryable tells the
caller whether trying again could help.

Connection state:

A tag that leaves the field forces the protocol into StateDisconnected and
wakes any transfer still waiting on the mailbox. Register a StateListener
with WithStateListener to observe transitions.

Debugging:

SetDebugEnabled(true) logs every frame through the zerolog logger installed
with SetLogger.
*/
package st25dv
