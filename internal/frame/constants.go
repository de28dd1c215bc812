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

// Package frame provides the information frame format spoken by serial
// ISO 15693 reader bridges.
package frame

// Frame identifiers. They indicate the direction of data flow.
const (
	HostToBridge = 0xD4 // Commands from host to bridge
	BridgeToHost = 0xD5 // Responses from bridge to host
)

// Frame markers and control bytes
const (
	Preamble   = 0x00 // Frame preamble byte
	StartCode1 = 0x00 // Start code byte 1
	StartCode2 = 0xFF // Start code byte 2
	Postamble  = 0x00 // Frame postamble byte

	// extendedMarker in both length positions announces an extended frame
	extendedMarker = 0xFF
)

// Frame size limits
const (
	// MaxNormalDataLength is the largest TFI plus data carried by a normal
	// frame. Longer payloads use extended frames.
	MaxNormalDataLength = 254
	// MaxFrameDataLength is the largest TFI plus data the bridge accepts
	MaxFrameDataLength = 300
	// MinFrameLength is preamble, start code, LEN, LCS, TFI, DCS
	MinFrameLength = 6
	// AckLength is the size of ACK and NACK frames
	AckLength = 6
)

// ACK and NACK frames are used for flow control
var (
	AckFrame  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	NackFrame = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
)
