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

// ISO 15693 request flags
const (
	// FlagHighDataRate requests the high data rate sub-carrier. It is the
	// flag used for every mailbox command.
	FlagHighDataRate byte = 0x02
	// FlagSelectedHighDataRate additionally addresses the selected tag only.
	FlagSelectedHighDataRate byte = 0x12
)

// VendorST is the IC manufacturer code for STMicroelectronics.
const VendorST byte = 0x02

// ST25DV custom command codes
const (
	cmdWriteMessage       = 0xAA
	cmdReadMessageLength  = 0xAB
	cmdReadMessage        = 0xAC
	cmdReadDynConfig      = 0xAD
	cmdWriteDynConfig     = 0xAE
	cmdFastWriteMessage   = 0xCA
	cmdFastReadMsgLength  = 0xCB
	cmdFastReadMessage    = 0xCC
	cmdFastReadDynConfig  = 0xCD
	cmdFastWriteDynConfig = 0xCE
)

// commandSet holds the command codes used for one transfer mode.
type commandSet struct {
	writeMessage      byte
	readMessageLength byte
	readMessage       byte
	readDynConfig     byte
	writeDynConfig    byte
}

var (
	standardCommands = commandSet{
		writeMessage:      cmdWriteMessage,
		readMessageLength: cmdReadMessageLength,
		readMessage:       cmdReadMessage,
		readDynConfig:     cmdReadDynConfig,
		writeDynConfig:    cmdWriteDynConfig,
	}
	// fastCommands use the doubled data rate on the tag to reader path.
	fastCommands = commandSet{
		writeMessage:      cmdFastWriteMessage,
		readMessageLength: cmdFastReadMsgLength,
		readMessage:       cmdFastReadMessage,
		readDynConfig:     cmdFastReadDynConfig,
		writeDynConfig:    cmdFastWriteDynConfig,
	}
)
