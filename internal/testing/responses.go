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

package testing

// ISO 15693 error codes used by the simulator
const (
	ErrorCodeNotSupported  byte = 0x01
	ErrorCodeNotRecognized byte = 0x02
	ErrorCodeUnknown       byte = 0x0F
)

// Test UIDs
var (
	// TestST25DVUID is an ISO 15693 UID (8 bytes, E0 02 ...)
	TestST25DVUID = []byte{0xE0, 0x02, 0x24, 0x00, 0x12, 0x34, 0x56, 0x78}
	// TestISODepUID is a 7 byte ISO 14443 UID
	TestISODepUID = []byte{0x04, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC}
)

// BuildOKResponse creates a successful response with no body
func BuildOKResponse() []byte {
	return []byte{0x00}
}

// BuildErrorResponse creates a response with the error flag and code set
func BuildErrorResponse(code byte) []byte {
	return []byte{0x01, code}
}

// BuildRegisterResponse creates a successful dynamic register read
func BuildRegisterResponse(value byte) []byte {
	return []byte{0x00, value}
}

// BuildMessageLengthResponse creates a read-message-length response. The
// tag reports the message length minus one.
func BuildMessageLengthResponse(length int) []byte {
	if length <= 0 {
		return []byte{0x00, 0x00}
	}
	return []byte{0x00, byte(length - 1)}
}

// BuildMessageResponse creates a successful read-message response
func BuildMessageResponse(message []byte) []byte {
	response := make([]byte, 1+len(message))
	copy(response[1:], message)
	return response
}
