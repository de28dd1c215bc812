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
)

// statusErrorFlag is the ISO 15693 response error flag. It is the only bit
// of the status byte the protocol interprets; when it is set the first body
// byte holds an opaque error code.
const statusErrorFlag = 0x01

// CommandFrame is a custom command addressed to the tag.
type CommandFrame struct {
	Payload []byte
	Flag    byte
	Code    byte
	Vendor  byte
}

// Encode lays out the frame as [flag][code][vendor][payload...].
func (f CommandFrame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, &ProtocolError{
			Op:   "encode command",
			Kind: ErrInvalidArgument,
			Err:  fmt.Errorf("payload of %d bytes exceeds %d", len(f.Payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Flag
	buf[1] = f.Code
	buf[2] = f.Vendor
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// EncodeCommand builds a command frame from its parts.
func EncodeCommand(flag, code, vendor byte, payload []byte) ([]byte, error) {
	return CommandFrame{Flag: flag, Code: code, Vendor: vendor, Payload: payload}.Encode()
}

// ResponseFrame is a decoded tag response.
type ResponseFrame struct {
	Body   []byte
	Status byte
}

// DecodeResponse splits a raw response into status and body.
func DecodeResponse(raw []byte) (ResponseFrame, error) {
	if len(raw) == 0 {
		return ResponseFrame{}, newProtocolError("decode response", ErrMalformedResponse,
			fmt.Errorf("empty response"))
	}

	body := make([]byte, len(raw)-1)
	copy(body, raw[1:])
	return ResponseFrame{Status: raw[0], Body: body}, nil
}

// IsSuccessful reports whether the tag accepted the command.
func (r ResponseFrame) IsSuccessful() bool {
	return r.Status&statusErrorFlag == 0
}

// ErrorCode returns the diagnostic code of a failed response, or zero.
func (r ResponseFrame) ErrorCode() byte {
	if r.IsSuccessful() || len(r.Body) == 0 {
		return 0
	}
	return r.Body[0]
}

// Raw re-assembles the response bytes as received.
func (r ResponseFrame) Raw() []byte {
	raw := make([]byte, 1+len(r.Body))
	raw[0] = r.Status
	copy(raw[1:], r.Body)
	return raw
}

// RequireSuccess returns a *ProtocolError matching ErrCommandFailed when
// the tag rejected the command.
func (r ResponseFrame) RequireSuccess() error {
	if r.IsSuccessful() {
		return nil
	}
	return &ProtocolError{
		Op:   "response",
		Kind: ErrCommandFailed,
		Err:  fmt.Errorf("status 0x%02X, error code 0x%02X", r.Status, r.ErrorCode()),
		Raw:  r.Raw(),
	}
}
