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

// Command st25host serves the wired side of an ST25DV mailbox over I2C.
// It answers every message with the message itself, optionally prefixed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ZaparooProject/go-st25dv/hostside"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		busName  string
		prefix   string
		interval time.Duration
		debug    bool
	)
	flagSet := pflag.NewFlagSet("st25host", pflag.ContinueOnError)
	flagSet.StringVarP(&busName, "bus", "b", "", "I2C bus name or number (empty for the first bus)")
	flagSet.StringVar(&prefix, "prefix", "", "text prepended to every echoed message")
	flagSet.DurationVar(&interval, "interval", hostside.DefaultPollInterval, "mailbox poll interval")
	flagSet.BoolVarP(&debug, "debug", "d", false, "log every message")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Str("app", "st25host").Logger().Level(level)

	responder, err := hostside.Open(busName, echoHandler([]byte(prefix)),
		hostside.WithLogger(logger), hostside.WithPollInterval(interval))
	if err != nil {
		return err
	}
	defer func() { _ = responder.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info().Str("bus", busName).Msg("serving mailbox")
	if err := responder.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve failed: %w", err)
	}
	return nil
}

func echoHandler(prefix []byte) hostside.Handler {
	return func(message []byte) []byte {
		reply := make([]byte, 0, len(prefix)+len(message))
		reply = append(reply, prefix...)
		reply = append(reply, message...)
		if len(reply) > hostside.MaxMessageSize {
			reply = reply[:hostside.MaxMessageSize]
		}
		return reply
	}
}
