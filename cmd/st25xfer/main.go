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

// Command st25xfer exchanges messages with an ST25DV tag through its
// mailbox, using a serial reader bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	st25dv "github.com/ZaparooProject/go-st25dv"
	"github.com/ZaparooProject/go-st25dv/detection"
	"github.com/ZaparooProject/go-st25dv/transport/uart"
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
	s := defaultSettings()

	var (
		configPath string
		uidHex     string
		listPorts  bool
		detect     bool
	)
	flagSet := pflag.NewFlagSet("st25xfer", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file")
	flagSet.StringVarP(&s.port, "port", "p", "", "serial port of the reader bridge (e.g. /dev/ttyUSB0 or COM3)")
	flagSet.IntVar(&s.baud, "baud", s.baud, "serial baud rate")
	flagSet.StringVar(&uidHex, "uid", "", "tag UID in hex; read from the bridge when empty")
	flagSet.DurationVar(&s.timeout, "timeout", 0, "link timeout per exchange (0 keeps the bridge default)")
	flagSet.BoolVar(&s.fast, "fast", false, "use the fast transfer command set")
	flagSet.BoolVarP(&s.debug, "debug", "d", false, "enable protocol debug output")
	flagSet.BoolVar(&listPorts, "list-ports", false, "list serial ports and exit")
	flagSet.BoolVar(&detect, "detect", false, "use the first USB serial bridge found when no port is given")
	flagSet.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: st25xfer [flags] HEX_MESSAGE...\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if configPath != "" {
		// Flags given on the command line win over the file
		fromFlags := s
		if err := loadConfigFile(configPath, &s); err != nil {
			return err
		}
		for _, name := range []string{"port", "baud", "timeout", "fast", "debug"} {
			if flagSet.Changed(name) {
				overrideFromFlag(&s, fromFlags, name)
			}
		}
	}
	if listPorts {
		return printPorts(s)
	}
	if uidHex != "" {
		uid, err := parseHex(uidHex)
		if err != nil {
			return fmt.Errorf("invalid --uid: %w", err)
		}
		s.uid = uid
	}

	messages, err := parseMessages(flagSet.Args())
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		flagSet.Usage()
		return errors.New("no message given")
	}
	logger := newLogger(s.debug)
	if s.port == "" && detect {
		bridge, err := detection.FindBridge(s.detectOptions())
		if err != nil {
			return fmt.Errorf("no serial port given, use --port: %w", err)
		}
		logger.Info().Str("port", bridge.Path).Str("usb", bridge.VIDPID).Msg("bridge detected")
		s.port = bridge.Path
	}
	if s.port == "" {
		return errors.New("no serial port given, use --port, --detect or --list-ports")
	}

	st25dv.SetLogger(logger)
	st25dv.SetDebugEnabled(s.debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return transfer(ctx, logger, s, messages)
}

func overrideFromFlag(s *settings, flags settings, name string) {
	switch name {
	case "port":
		s.port = flags.port
	case "baud":
		s.baud = flags.baud
	case "timeout":
		s.timeout = flags.timeout
	case "fast":
		s.fast = flags.fast
	case "debug":
		s.debug = flags.debug
	}
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Str("app", "st25xfer").Logger().Level(level)
}

func transfer(ctx context.Context, logger zerolog.Logger, s settings, messages [][]byte) error {
	tr, err := uart.New(s.port, s.baud)
	if err != nil {
		return fmt.Errorf("failed to create UART transport: %w", err)
	}
	defer func() {
		if err := tr.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("shutdown failed")
		}
	}()

	uid := s.uid
	if len(uid) == 0 {
		if err := tr.Connect(); err != nil {
			return fmt.Errorf("no tag found on %s: %w", s.port, err)
		}
		uid = tr.UID()
		_ = tr.Close()
	}
	logger.Info().Hex("uid", uid).Msg("tag selected")

	protocol, err := st25dv.Open(uid, tr, s.options()...)
	if err != nil {
		return fmt.Errorf("failed to open protocol: %w", err)
	}
	logger.Debug().Stringer("variant", protocol.Variant()).Msg("protocol selected")

	if err := protocol.Connect(); err != nil {
		return fmt.Errorf("failed to connect to tag: %w", err)
	}
	defer func() { _ = protocol.Disconnect() }()

	for i, msg := range messages {
		start := time.Now()
		resp, err := protocol.TransferContext(ctx, msg)
		if err != nil {
			return fmt.Errorf("transfer %d failed: %w", i+1, err)
		}
		logger.Debug().Dur("took", time.Since(start)).Int("len", len(resp)).Msg("transfer done")
		_, _ = fmt.Printf("%X\n", resp)
	}
	return nil
}

func printPorts(s settings) error {
	opts := s.detectOptions()
	opts.IncludeNonUSB = true
	bridges, err := detection.ListBridges(opts)
	if err != nil {
		return err
	}
	if len(bridges) == 0 {
		_, _ = fmt.Println("no serial ports found")
		return nil
	}
	for _, b := range bridges {
		_, _ = fmt.Println(b.String())
	}
	return nil
}
