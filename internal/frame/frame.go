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

package frame

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means more bytes are needed to parse a frame
	ErrIncomplete = errors.New("incomplete frame")
	// ErrCorrupted means a frame failed a checksum or marker check
	ErrCorrupted = errors.New("corrupted frame")
	// ErrTooLarge means the data does not fit in a frame
	ErrTooLarge = errors.New("frame data too large")
)

// CalculateChecksum returns the sum of data modulo 256
func CalculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// ValidateChecksum reports whether data fails its checksum, that is
// whether the frame should be NACKed. Data with a trailing checksum byte
// sums to zero when valid.
func ValidateChecksum(data []byte) bool {
	return CalculateChecksum(data) != 0
}

// CalculateDataChecksum returns the DCS for tfi followed by data
func CalculateDataChecksum(tfi byte, data []byte) byte {
	return ^(tfi + CalculateChecksum(data)) + 1
}

// CalculateLengthChecksum returns the LCS for a normal frame length
func CalculateLengthChecksum(length byte) byte {
	return ^length + 1
}

// Build wraps tfi and data in an information frame. Data that does not
// fit a normal frame gets an extended frame.
func Build(tfi byte, data []byte) ([]byte, error) {
	length := len(data) + 1
	if length > MaxFrameDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, length)
	}

	out := make([]byte, 0, length+10)
	out = append(out, Preamble, StartCode1, StartCode2)
	if length <= MaxNormalDataLength {
		out = append(out, byte(length), CalculateLengthChecksum(byte(length)))
	} else {
		hi, lo := byte(length>>8), byte(length)
		out = append(out, extendedMarker, extendedMarker, hi, lo, ^(hi+lo)+1)
	}
	out = append(out, tfi)
	out = append(out, data...)
	out = append(out, CalculateDataChecksum(tfi, data), Postamble)
	return out, nil
}

// IsAck reports whether buf starts with an ACK frame
func IsAck(buf []byte) bool {
	return bytes.HasPrefix(buf, AckFrame)
}

// Parse extracts the first information frame from buf. It returns the
// TFI, the data and the number of bytes consumed, including any garbage
// before the start code. ErrIncomplete asks for more input.
func Parse(buf []byte) (tfi byte, data []byte, consumed int, err error) {
	start := bytes.Index(buf, []byte{StartCode1, StartCode2})
	if start < 0 {
		return 0, nil, 0, ErrIncomplete
	}
	off := start + 2

	if len(buf) < off+2 {
		return 0, nil, 0, ErrIncomplete
	}

	var length, header int
	if buf[off] == extendedMarker && buf[off+1] == extendedMarker {
		if len(buf) < off+5 {
			return 0, nil, 0, ErrIncomplete
		}
		if ValidateChecksum(buf[off+2 : off+5]) {
			return 0, nil, off + 5, fmt.Errorf("%w: extended length checksum", ErrCorrupted)
		}
		length = int(buf[off+2])<<8 | int(buf[off+3])
		header = 5
	} else {
		if ValidateChecksum(buf[off : off+2]) {
			return 0, nil, off + 2, fmt.Errorf("%w: length checksum", ErrCorrupted)
		}
		length = int(buf[off])
		header = 2
	}

	if length == 0 {
		return 0, nil, off + header, fmt.Errorf("%w: empty frame", ErrCorrupted)
	}

	body := off + header
	end := body + length + 1 // DCS
	if len(buf) < end {
		return 0, nil, 0, ErrIncomplete
	}
	if ValidateChecksum(buf[body:end]) {
		return 0, nil, end, fmt.Errorf("%w: data checksum", ErrCorrupted)
	}

	consumed = end
	if consumed < len(buf) && buf[consumed] == Postamble {
		consumed++
	}
	data = make([]byte, length-1)
	copy(data, buf[body+1:end-1])
	return buf[body], data, consumed, nil
}
