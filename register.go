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
	"strings"

	"github.com/ZaparooProject/go-st25dv/internal/retry"
)

// RegisterID addresses a dynamic configuration register
type RegisterID byte

const (
	// RegisterEnergyHarvesting is EH_CTRL_Dyn
	RegisterEnergyHarvesting RegisterID = 0x02
	// RegisterMailboxControl is MB_CTRL_Dyn
	RegisterMailboxControl RegisterID = 0x0D
)

// String returns the register name
func (id RegisterID) String() string {
	switch id {
	case RegisterEnergyHarvesting:
		return "EH_CTRL_Dyn"
	case RegisterMailboxControl:
		return "MB_CTRL_Dyn"
	default:
		return fmt.Sprintf("register 0x%02X", byte(id))
	}
}

// RegisterFlag is a bit of a dynamic register
type RegisterFlag byte

// MB_CTRL_Dyn bits
const (
	// MailboxEnabled is MB_EN: the mailbox accepts messages
	MailboxEnabled RegisterFlag = 0x01
	// HostPutMessage is HOST_PUT_MSG: the wired side wrote a response
	HostPutMessage RegisterFlag = 0x02
	// RfPutMessage is RF_PUT_MSG: the radio side wrote a message
	RfPutMessage RegisterFlag = 0x04
	// HostMissMessage is HOST_MISS_MSG: the wired side missed a message
	HostMissMessage RegisterFlag = 0x10
	// RfMissMessage is RF_MISS_MSG: the radio side missed a message
	RfMissMessage RegisterFlag = 0x20
	// HostSideHasMessage is HOST_CURRENT_MSG: a wired side message is pending
	HostSideHasMessage RegisterFlag = 0x40
	// RfSideHasMessage is RF_CURRENT_MSG: a radio side message is pending
	RfSideHasMessage RegisterFlag = 0x80
)

// EH_CTRL_Dyn bits
const (
	// HarvestingEnabled is EH_EN: energy harvesting output is enabled
	HarvestingEnabled RegisterFlag = 0x01
	// HarvestingOn is EH_ON: energy is being harvested
	HarvestingOn RegisterFlag = 0x02
	// FieldOn is FIELD_ON: an RF field is present
	FieldOn RegisterFlag = 0x04
	// VccOn is VCC_ON: the tag has wired supply
	VccOn RegisterFlag = 0x08
)

// Mailbox control values written to MB_CTRL_Dyn
const (
	mailboxDisable byte = 0x00
	mailboxEnable  byte = 0x01
)

var (
	mailboxFlagNames = []struct {
		name string
		flag RegisterFlag
	}{
		{"MB_EN", MailboxEnabled},
		{"HOST_PUT_MSG", HostPutMessage},
		{"RF_PUT_MSG", RfPutMessage},
		{"HOST_MISS_MSG", HostMissMessage},
		{"RF_MISS_MSG", RfMissMessage},
		{"HOST_CURRENT_MSG", HostSideHasMessage},
		{"RF_CURRENT_MSG", RfSideHasMessage},
	}
	harvestingFlagNames = []struct {
		name string
		flag RegisterFlag
	}{
		{"EH_EN", HarvestingEnabled},
		{"EH_ON", HarvestingOn},
		{"FIELD_ON", FieldOn},
		{"VCC_ON", VccOn},
	}
)

// RegisterSnapshot is the value of a dynamic register at one read.
type RegisterSnapshot struct {
	id    RegisterID
	value byte
}

// NewRegisterSnapshot wraps a raw register value
func NewRegisterSnapshot(id RegisterID, value byte) RegisterSnapshot {
	return RegisterSnapshot{id: id, value: value}
}

// ID returns the register the value was read from
func (r RegisterSnapshot) ID() RegisterID {
	return r.id
}

// Value returns the raw register byte
func (r RegisterSnapshot) Value() byte {
	return r.value
}

// Has reports whether every bit of flag is set
func (r RegisterSnapshot) Has(flag RegisterFlag) bool {
	return r.value&byte(flag) == byte(flag)
}

// String lists the set flags by their datasheet names
func (r RegisterSnapshot) String() string {
	names := mailboxFlagNames
	switch r.id {
	case RegisterMailboxControl:
	case RegisterEnergyHarvesting:
		names = harvestingFlagNames
	default:
		return fmt.Sprintf("%s=0x%02X", r.id, r.value)
	}

	var set []string
	for _, n := range names {
		if r.Has(n.flag) {
			set = append(set, n.name)
		}
	}
	return fmt.Sprintf("%s=0x%02X[%s]", r.id, r.value, strings.Join(set, "|"))
}

// isRegisterReadRetryable retries everything but a lost tag and a
// cancelled wait.
func isRegisterReadRetryable(err error) bool {
	if isTagGone(err) {
		return false
	}
	return GetErrorType(err) != ErrorTypePermanent || isMalformed(err)
}

// readRegister reads a dynamic register. Unsuccessful responses and
// transient link errors are retried within the attempt budget; the last
// error is returned once it is exhausted.
func (p *MailboxProtocol) readRegister(ctx context.Context, id RegisterID) (RegisterSnapshot, error) {
	op := "read " + id.String()
	snap, attempts, err := retry.Do(p.retryConfig(ctx, op, isRegisterReadRetryable),
		func(int) (RegisterSnapshot, error) {
			resp, err := p.exchange(ctx, op, FlagHighDataRate, p.commands.readDynConfig, []byte{byte(id)})
			if err != nil {
				return RegisterSnapshot{}, err
			}
			if err := resp.RequireSuccess(); err != nil {
				return RegisterSnapshot{}, err
			}
			if len(resp.Body) < 1 {
				return RegisterSnapshot{}, &ProtocolError{
					Op: op, Kind: ErrMalformedResponse,
					Err: fmt.Errorf("no register value"), Raw: resp.Raw(),
				}
			}
			return NewRegisterSnapshot(id, resp.Body[0]), nil
		})
	if err != nil {
		return RegisterSnapshot{}, withAttempts(err, op, attempts)
	}

	debugf("%s", snap)
	return snap, nil
}

// writeRegister writes a dynamic register once. The caller decides what to
// do with an unsuccessful response.
func (p *MailboxProtocol) writeRegister(ctx context.Context, id RegisterID, value, flag byte) (ResponseFrame, error) {
	return p.exchange(ctx, "write "+id.String(), flag, p.commands.writeDynConfig, []byte{byte(id), value})
}

// ReadDynamicRegister reads a dynamic register of a connected tag
func (p *MailboxProtocol) ReadDynamicRegister(id RegisterID) (RegisterSnapshot, error) {
	return p.ReadDynamicRegisterContext(context.Background(), id)
}

// ReadDynamicRegisterContext reads a dynamic register with context support.
// It waits for any in-flight transfer to finish.
func (p *MailboxProtocol) ReadDynamicRegisterContext(ctx context.Context, id RegisterID) (RegisterSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.IsConnected() {
		return RegisterSnapshot{}, newProtocolError("read "+id.String(), ErrNotConnected, nil)
	}
	sctx, stop := p.conn.bind(ctx)
	defer stop()

	snap, err := p.readRegister(sctx, id)
	if err != nil {
		return RegisterSnapshot{}, p.handleFailure(ctx, err)
	}
	return snap, nil
}

// WriteDynamicRegister writes a dynamic register of a connected tag once
func (p *MailboxProtocol) WriteDynamicRegister(id RegisterID, value byte) (ResponseFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.IsConnected() {
		return ResponseFrame{}, newProtocolError("write "+id.String(), ErrNotConnected, nil)
	}
	ctx := context.Background()
	sctx, stop := p.conn.bind(ctx)
	defer stop()

	resp, err := p.writeRegister(sctx, id, value, FlagHighDataRate)
	if err != nil {
		return ResponseFrame{}, p.handleFailure(ctx, err)
	}
	return resp, nil
}
