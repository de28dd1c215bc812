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

// checkAndRepair makes sure the mailbox is enabled and holds no stale
// message from an earlier exchange. A stuck mailbox gets exactly one
// disable/enable cycle; if it still does not report enabled the transfer
// fails with ErrMailboxUnavailable.
func (p *MailboxProtocol) checkAndRepair(ctx context.Context) error {
	status, err := p.readRegister(ctx, RegisterMailboxControl)
	if err != nil {
		return err
	}

	if status.Has(MailboxEnabled) && !status.Has(RfSideHasMessage) && !status.Has(HostSideHasMessage) {
		return nil
	}

	debugf("mailbox needs reset: %s", status)
	if err := p.resetMailbox(ctx); err != nil {
		return err
	}

	status, err = p.readRegister(ctx, RegisterMailboxControl)
	if err != nil {
		return err
	}
	if !status.Has(MailboxEnabled) {
		return &ProtocolError{
			Op:   "mailbox check",
			Kind: ErrMailboxUnavailable,
			Err:  fmt.Errorf("mailbox still disabled after reset (%s)", status),
			Raw:  []byte{status.Value()},
		}
	}
	return nil
}

// resetMailbox disables then re-enables the mailbox, which discards any
// message in it. Rejected writes are logged; the re-read decides.
func (p *MailboxProtocol) resetMailbox(ctx context.Context) error {
	for _, value := range []byte{mailboxDisable, mailboxEnable} {
		resp, err := p.writeRegister(ctx, RegisterMailboxControl, value, FlagHighDataRate)
		if err != nil {
			return err
		}
		if !resp.IsSuccessful() {
			debugf("mailbox control write 0x%02X rejected: status 0x%02X code 0x%02X",
				value, resp.Status, resp.ErrorCode())
		}
	}
	return nil
}
