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
	"time"
)

// Clock performs the protocol's wall-clock waits. The waits model physical
// settling time on the tag and are never skipped; tests substitute a clock
// that records them instead.
type Clock interface {
	// Sleep waits for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns the clock used by default.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep interrupted: %w", err)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
