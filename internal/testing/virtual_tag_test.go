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

package testing_test

import (
	"bytes"
	"testing"

	virt "github.com/ZaparooProject/go-st25dv/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(code byte, payload ...byte) []byte {
	return append([]byte{0x02, code, 0x02}, payload...)
}

func connected(t *testing.T) *virt.VirtualTag {
	t.Helper()
	tag := virt.NewVirtualST25DV(nil)
	require.NoError(t, tag.Connect())
	return tag
}

func TestVirtualTagDefaults(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	assert.Equal(t, virt.TestST25DVUID, tag.UID)
	assert.False(t, tag.IsConnected())
	assert.Equal(t, virt.MBEnabled, tag.MailboxControl())
	assert.Contains(t, tag.String(), "E0022400")

	_, err := tag.Exchange(request(virt.CmdReadDynConfig, virt.RegMailboxControl))
	require.Error(t, err)
}

func TestVirtualTagEchoRoundTrip(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	msg := []byte{0x10, 0x20, 0x30}

	resp, err := tag.Exchange(request(virt.CmdWriteMessage, append([]byte{byte(len(msg) - 1)}, msg...)...))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildOKResponse(), resp)

	mb := tag.MailboxControl()
	assert.NotZero(t, mb&virt.MBHostPutMsg)

	resp, err = tag.Exchange(request(virt.CmdReadMessageLength))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02}, resp)

	resp, err = tag.Exchange(request(virt.CmdReadMessage, 0x00, 0x02))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x00}, msg...), resp)
	assert.Equal(t, virt.MBEnabled, tag.MailboxControl())

	assert.Equal(t, []byte{virt.CmdWriteMessage, virt.CmdReadMessageLength, virt.CmdReadMessage}, tag.Commands())
}

func TestVirtualTagPendingPolls(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	tag.PollsBeforeResponse = 2
	tag.Handler = func(message []byte) []byte { return bytes.ToUpper(message) }

	_, err := tag.Exchange(request(virt.CmdWriteMessage, 0x01, 'o', 'k'))
	require.NoError(t, err)

	for range 2 {
		resp, err := tag.Exchange(request(virt.CmdReadDynConfig, virt.RegMailboxControl))
		require.NoError(t, err)
		assert.Zero(t, resp[1]&virt.MBHostPutMsg)
	}
	resp, err := tag.Exchange(request(virt.CmdReadDynConfig, virt.RegMailboxControl))
	require.NoError(t, err)
	assert.NotZero(t, resp[1]&virt.MBHostPutMsg)
	assert.Equal(t, 3, tag.CountCommand(virt.CmdReadDynConfig))

	resp, err = tag.Exchange(request(virt.CmdReadMessage, 0x00, 0x00))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 'O', 'K'}, resp)
}

func TestVirtualTagBusyMailboxRejectsWrite(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	tag.InjectStaleMessage([]byte{0xEE})

	resp, err := tag.Exchange(request(virt.CmdWriteMessage, 0x00, 0x01))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeUnknown), resp)

	// Resetting the mailbox discards the stale message
	_, err = tag.Exchange(request(virt.CmdWriteDynConfig, virt.RegMailboxControl, 0x00))
	require.NoError(t, err)
	_, err = tag.Exchange(request(virt.CmdWriteDynConfig, virt.RegMailboxControl, virt.MBEnabled))
	require.NoError(t, err)
	assert.Equal(t, virt.MBEnabled, tag.MailboxControl())

	resp, err = tag.Exchange(request(virt.CmdWriteMessage, 0x00, 0x01))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildOKResponse(), resp)
}

func TestVirtualTagStuckDisabled(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	tag.StuckDisabled = true
	tag.SetMailboxEnabled(false)

	_, err := tag.Exchange(request(virt.CmdWriteDynConfig, virt.RegMailboxControl, virt.MBEnabled))
	require.NoError(t, err)
	assert.Zero(t, tag.MailboxControl()&virt.MBEnabled)
}

func TestVirtualTagNeverRespond(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	tag.NeverRespond()

	_, err := tag.Exchange(request(virt.CmdWriteMessage, 0x00, 0x01))
	require.NoError(t, err)

	mb := tag.MailboxControl()
	assert.NotZero(t, mb&virt.MBRfPutMsg)
	assert.Zero(t, mb&virt.MBHostPutMsg)
}

func TestVirtualTagHarvestingRegister(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	resp, err := tag.Exchange(request(virt.CmdFastReadDynConfig, virt.RegEnergyHarvesting))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildRegisterResponse(virt.EHFieldOn), resp)

	tag.HarvestingEnabled = true
	resp, err = tag.Exchange(request(virt.CmdReadDynConfig, virt.RegEnergyHarvesting))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildRegisterResponse(virt.EHFieldOn|virt.EHEnabled), resp)
}

func TestVirtualTagInjectedFailures(t *testing.T) {
	t.Parallel()

	tag := virt.NewVirtualST25DV(nil)
	tag.FailConnects = 1
	require.Error(t, tag.Connect())
	require.NoError(t, tag.Connect())

	tag.FailRegisterReads = 1
	resp, err := tag.Exchange(request(virt.CmdReadDynConfig, virt.RegMailboxControl))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeUnknown), resp)

	tag.FailWrites = 1
	resp, err = tag.Exchange(request(virt.CmdWriteMessage, 0x00, 0x01))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeUnknown), resp)

	resp, err = tag.Exchange(request(virt.CmdWriteMessage, 0x00, 0x01))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildOKResponse(), resp)

	tag.FailMessageReads = 1
	_, err = tag.Exchange(request(virt.CmdReadMessage, 0x00, 0x00))
	require.ErrorIs(t, err, virt.ErrTransceive)
}

func TestVirtualTagRemoval(t *testing.T) {
	t.Parallel()

	tag := connected(t)
	tag.Remove()
	assert.False(t, tag.IsConnected())

	_, err := tag.Exchange(request(virt.CmdReadDynConfig, virt.RegMailboxControl))
	require.ErrorIs(t, err, tag.TagLostErr)
	require.ErrorIs(t, tag.Connect(), tag.TagLostErr)

	tag.Insert()
	require.NoError(t, tag.Connect())
	require.NoError(t, tag.Close())
	require.NoError(t, tag.Close())
}

func TestVirtualTagRejectsUnknownInput(t *testing.T) {
	t.Parallel()

	tag := connected(t)

	resp, err := tag.Exchange([]byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeNotRecognized), resp)

	resp, err = tag.Exchange([]byte{0x02, virt.CmdReadDynConfig, 0x53, virt.RegMailboxControl})
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeNotSupported), resp)

	resp, err = tag.Exchange(request(0x20))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeNotSupported), resp)

	resp, err = tag.Exchange(request(virt.CmdWriteMessage, 0x05, 0x01))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeNotRecognized), resp)

	resp, err = tag.Exchange(request(virt.CmdReadMessageLength))
	require.NoError(t, err)
	assert.Equal(t, virt.BuildErrorResponse(virt.ErrorCodeUnknown), resp)
}
