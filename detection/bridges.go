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

// Package detection finds serial reader bridges attached to the host.
package detection

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNoBridge is returned by FindBridge when no candidate port is left
// after filtering.
var ErrNoBridge = errors.New("no reader bridge found")

// Bridge is a serial port that may have a reader bridge behind it
type Bridge struct {
	Path    string
	VIDPID  string
	Product string
	Serial  string
	USB     bool
}

// String describes the bridge for listings
func (b Bridge) String() string {
	if !b.USB {
		return b.Path
	}
	desc := fmt.Sprintf("%s\tUSB %s", b.Path, b.VIDPID)
	if b.Product != "" {
		desc += " " + b.Product
	}
	if b.Serial != "" {
		desc += " " + b.Serial
	}
	return desc
}

// Options filters the ports considered as bridges
type Options struct {
	// Blocklist holds VID:PID pairs that are never bridges. Entries may use
	// any format ParseVIDPID understands.
	Blocklist []string
	// IgnorePaths holds port paths to skip
	IgnorePaths []string
	// IncludeNonUSB also returns ports without USB descriptors
	IncludeNonUSB bool
}

// ListBridges enumerates the serial ports of the host and filters them
func ListBridges(opts Options) ([]Bridge, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return FilterPorts(ports, opts), nil
}

// FindBridge returns the first bridge ListBridges reports
func FindBridge(opts Options) (Bridge, error) {
	bridges, err := ListBridges(opts)
	if err != nil {
		return Bridge{}, err
	}
	if len(bridges) == 0 {
		return Bridge{}, ErrNoBridge
	}
	return bridges[0], nil
}

// FilterPorts turns enumerated ports into bridges, dropping blocked devices
// and ignored paths. The result is sorted by path.
func FilterPorts(ports []*enumerator.PortDetails, opts Options) []Bridge {
	bridges := make([]Bridge, 0, len(ports))
	for _, port := range ports {
		if port == nil || IsPathIgnored(port.Name, opts.IgnorePaths) {
			continue
		}
		if !port.IsUSB && !opts.IncludeNonUSB {
			continue
		}

		b := Bridge{Path: port.Name, USB: port.IsUSB}
		if port.IsUSB {
			b.VIDPID = strings.ToUpper(port.VID + ":" + port.PID)
			b.Product = port.Product
			b.Serial = port.SerialNumber
			if IsBlocked(b.VIDPID, opts.Blocklist) {
				continue
			}
		}
		bridges = append(bridges, b)
	}

	slices.SortFunc(bridges, func(a, b Bridge) int {
		return strings.Compare(a.Path, b.Path)
	})
	return bridges
}

// IsBlocked checks if a VID:PID pair is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}

	for _, entry := range blocklist {
		blocked := ParseVIDPID(entry)
		if blocked == "" {
			blocked = strings.ToUpper(strings.TrimSpace(entry))
		}
		if vidpid == blocked {
			return true
		}
	}
	return false
}

// ParseVIDPID extracts VID:PID from "VID:0483 PID:5740", "vid=0483
// pid=5740" or "0483:5740" and returns it upper case, or "" when the
// descriptor holds no pair.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(strings.TrimSpace(descriptor))

	vid := valueAfter(descriptor, "VID:", "VID=", "VENDOR=")
	pid := valueAfter(descriptor, "PID:", "PID=", "PRODUCT=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	if before, after, ok := strings.Cut(descriptor, ":"); ok && isHex(before) && isHex(after) {
		return descriptor
	}
	return ""
}

// valueAfter returns the hex digits following the first key found
func valueAfter(s string, keys ...string) string {
	for _, key := range keys {
		if idx := strings.Index(s, key); idx >= 0 {
			return leadingHex(s[idx+len(key):])
		}
	}
	return ""
}

func leadingHex(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !isHexDigit(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

func isHex(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !isHexDigit(r) }) < 0
}

// IsPathIgnored checks if a port path should be skipped. Paths are compared
// cleaned and case-insensitively, since Windows port names are.
func IsPathIgnored(path string, ignorePaths []string) bool {
	if path == "" {
		return false
	}

	normalized := normalizePath(path)
	for _, ignored := range ignorePaths {
		if ignored == "" {
			continue
		}
		if ignored == path || normalizePath(ignored) == normalized {
			return true
		}
	}
	return false
}

func normalizePath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
