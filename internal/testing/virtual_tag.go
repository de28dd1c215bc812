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

// Package testing provides a simulated ST25DV tag for protocol tests.
//
// VirtualTag implements the RawLink method set and answers the ISO 15693
// custom commands used by the fast transfer mode mailbox: dynamic register
// access, write message, read message length and read message. A Handler
// plays the part of the wired-side microcontroller.
package testing

import (
	"errors"
	"fmt"
	"sync"
)

// Command codes understood by the simulator
const (
	CmdWriteMessage       byte = 0xAA
	CmdReadMessageLength  byte = 0xAB
	CmdReadMessage        byte = 0xAC
	CmdReadDynConfig      byte = 0xAD
	CmdWriteDynConfig     byte = 0xAE
	CmdFastWriteMessage   byte = 0xCA
	CmdFastReadMsgLength  byte = 0xCB
	CmdFastReadMessage    byte = 0xCC
	CmdFastReadDynConfig  byte = 0xCD
	CmdFastWriteDynConfig byte = 0xCE
)

// Register ids and bits mirrored from the datasheet
const (
	RegEnergyHarvesting byte = 0x02
	RegMailboxControl   byte = 0x0D

	MBEnabled        byte = 0x01
	MBHostPutMsg     byte = 0x02
	MBRfPutMsg       byte = 0x04
	MBHostCurrentMsg byte = 0x40
	MBRfCurrentMsg   byte = 0x80

	EHEnabled byte = 0x01
	EHFieldOn byte = 0x04
)

const (
	vendorST    = 0x02
	headerSize  = 3
	mailboxSize = 256
)

// ErrTransceive is returned for injected I/O failures
var ErrTransceive = errors.New("virtual tag transceive failed")

// VirtualTag represents a simulated ST25DV tag for testing
type VirtualTag struct {
	// Handler produces the wired-side answer to each message. A nil
	// handler echoes the message back.
	Handler func(message []byte) []byte
	// TagLostErr is returned while the tag is out of the field
	TagLostErr error

	// UID is the tag identifier
	UID []byte

	hostMsg  []byte
	rfMsg    []byte
	commands []byte

	// HarvestingEnabled is reported through EH_CTRL_Dyn
	HarvestingEnabled bool
	// StuckDisabled keeps the mailbox disabled whatever is written to it
	StuckDisabled bool

	// PollsBeforeResponse is the number of MB_CTRL_Dyn reads that do not
	// yet see HOST_PUT_MSG after a write
	PollsBeforeResponse int
	// FailConnects fails that many Connect calls
	FailConnects int
	// FailRegisterReads answers that many register reads with an error
	FailRegisterReads int
	// FailWrites answers that many message writes with an error
	FailWrites int
	// FailMessageReads fails that many read-message exchanges at I/O level
	FailMessageReads int

	pendingPolls int
	mu           sync.Mutex
	mbEnabled    bool
	present      bool
	connected    bool
	noResponse   bool
}

// NewVirtualST25DV creates a present tag with the mailbox enabled
func NewVirtualST25DV(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestST25DVUID
	}
	return &VirtualTag{
		UID:        uid,
		TagLostErr: errors.New("virtual tag lost"),
		mbEnabled:  true,
		present:    true,
	}
}

// Connect opens a session with the tag
func (v *VirtualTag) Connect() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.FailConnects > 0 {
		v.FailConnects--
		return errors.New("virtual tag connect failed")
	}
	if !v.present {
		return v.TagLostErr
	}
	v.connected = true
	return nil
}

// Close ends the session; closing twice is harmless
func (v *VirtualTag) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	return nil
}

// IsConnected returns true while a session is open
func (v *VirtualTag) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// Remove takes the tag out of the field
func (v *VirtualTag) Remove() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.present = false
	v.connected = false
}

// Insert puts the tag back into the field
func (v *VirtualTag) Insert() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.present = true
}

// SetMailboxEnabled sets MB_EN as if written from the wired side
func (v *VirtualTag) SetMailboxEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mbEnabled = enabled
}

// InjectStaleMessage leaves an unread wired-side message in the mailbox
func (v *VirtualTag) InjectStaleMessage(message []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hostMsg = append([]byte(nil), message...)
	v.pendingPolls = 0
}

// NeverRespond makes the wired side ignore every message
func (v *VirtualTag) NeverRespond() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noResponse = true
}

// Commands returns the command codes received so far
func (v *VirtualTag) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.commands...)
}

// CountCommand returns how often a command code was received
func (v *VirtualTag) CountCommand(code byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.commands {
		if c == code {
			n++
		}
	}
	return n
}

// MailboxControl returns the current MB_CTRL_Dyn value without side effects
func (v *VirtualTag) MailboxControl() byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mailboxControl()
}

// Exchange processes one request frame
func (v *VirtualTag) Exchange(request []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.present {
		return nil, v.TagLostErr
	}
	if !v.connected {
		return nil, errors.New("virtual tag not connected")
	}
	if len(request) < headerSize {
		return BuildErrorResponse(ErrorCodeNotRecognized), nil
	}

	code := request[1]
	v.commands = append(v.commands, code)
	if request[2] != vendorST {
		return BuildErrorResponse(ErrorCodeNotSupported), nil
	}
	payload := request[headerSize:]

	switch code {
	case CmdReadDynConfig, CmdFastReadDynConfig:
		return v.readDynConfig(payload), nil
	case CmdWriteDynConfig, CmdFastWriteDynConfig:
		return v.writeDynConfig(payload), nil
	case CmdWriteMessage, CmdFastWriteMessage:
		return v.writeMessage(payload), nil
	case CmdReadMessageLength, CmdFastReadMsgLength:
		if v.hostMsg == nil {
			return BuildErrorResponse(ErrorCodeUnknown), nil
		}
		return BuildMessageLengthResponse(len(v.hostMsg)), nil
	case CmdReadMessage, CmdFastReadMessage:
		return v.readMessage(payload)
	default:
		return BuildErrorResponse(ErrorCodeNotSupported), nil
	}
}

func (v *VirtualTag) mailboxControl() byte {
	var value byte
	if v.mbEnabled {
		value |= MBEnabled
	}
	if v.hostMsg != nil {
		value |= MBHostCurrentMsg
		if v.pendingPolls == 0 {
			value |= MBHostPutMsg
		}
	}
	if v.rfMsg != nil {
		value |= MBRfPutMsg | MBRfCurrentMsg
	}
	return value
}

func (v *VirtualTag) readDynConfig(payload []byte) []byte {
	if len(payload) != 1 {
		return BuildErrorResponse(ErrorCodeNotRecognized)
	}
	if v.FailRegisterReads > 0 {
		v.FailRegisterReads--
		return BuildErrorResponse(ErrorCodeUnknown)
	}

	switch payload[0] {
	case RegMailboxControl:
		value := v.mailboxControl()
		if v.hostMsg != nil && v.pendingPolls > 0 {
			v.pendingPolls--
		}
		return BuildRegisterResponse(value)
	case RegEnergyHarvesting:
		value := EHFieldOn
		if v.HarvestingEnabled {
			value |= EHEnabled
		}
		return BuildRegisterResponse(value)
	default:
		return BuildErrorResponse(ErrorCodeNotSupported)
	}
}

func (v *VirtualTag) writeDynConfig(payload []byte) []byte {
	if len(payload) != 2 || payload[0] != RegMailboxControl {
		return BuildErrorResponse(ErrorCodeNotSupported)
	}

	enable := payload[1]&MBEnabled != 0
	if !enable {
		// Disabling the mailbox discards its content
		v.hostMsg = nil
		v.rfMsg = nil
	}
	v.mbEnabled = enable && !v.StuckDisabled
	return BuildOKResponse()
}

func (v *VirtualTag) writeMessage(payload []byte) []byte {
	if !v.mbEnabled || v.hostMsg != nil || v.rfMsg != nil {
		return BuildErrorResponse(ErrorCodeUnknown)
	}
	if v.FailWrites > 0 {
		v.FailWrites--
		return BuildErrorResponse(ErrorCodeUnknown)
	}
	if len(payload) < 2 {
		return BuildErrorResponse(ErrorCodeNotRecognized)
	}

	length := int(payload[0]) + 1
	if len(payload)-1 != length || length > mailboxSize {
		return BuildErrorResponse(ErrorCodeNotRecognized)
	}
	message := append([]byte(nil), payload[1:]...)

	if v.noResponse {
		v.rfMsg = message
		return BuildOKResponse()
	}

	// The wired side consumes the message and answers it
	answer := message
	if v.Handler != nil {
		answer = v.Handler(message)
	}
	if len(answer) > 0 {
		v.hostMsg = append([]byte(nil), answer...)
		v.pendingPolls = v.PollsBeforeResponse
	}
	return BuildOKResponse()
}

func (v *VirtualTag) readMessage(payload []byte) ([]byte, error) {
	if v.FailMessageReads > 0 {
		v.FailMessageReads--
		return nil, ErrTransceive
	}
	if len(payload) != 2 || v.hostMsg == nil {
		return BuildErrorResponse(ErrorCodeUnknown), nil
	}

	offset := int(payload[0])
	count := int(payload[1]) + 1
	if payload[1] == 0 {
		count = len(v.hostMsg) - offset
	}
	if offset+count > len(v.hostMsg) {
		return BuildErrorResponse(ErrorCodeUnknown), nil
	}

	data := append([]byte(nil), v.hostMsg[offset:offset+count]...)
	if offset+count == len(v.hostMsg) {
		// Reading to the end releases the mailbox
		v.hostMsg = nil
	}
	return BuildMessageResponse(data), nil
}

// String describes the tag state
func (v *VirtualTag) String() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fmt.Sprintf("VirtualST25DV{uid=%X present=%t connected=%t mb=0x%02X}",
		v.UID, v.present, v.connected, v.mailboxControl())
}
