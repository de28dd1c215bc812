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

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	st25dv "github.com/ZaparooProject/go-st25dv"
	"github.com/ZaparooProject/go-st25dv/detection"
	"github.com/ZaparooProject/go-st25dv/transport/uart"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file layout. Durations are Go duration
// strings.
type fileConfig struct {
	Port    string `yaml:"port"`
	UID     string `yaml:"uid"`
	Timeout string `yaml:"timeout"`
	Retry   struct {
		Delay    string `yaml:"delay"`
		Attempts int    `yaml:"attempts"`
	} `yaml:"retry"`
	Timing struct {
		PrePollDelay     string `yaml:"pre_poll_delay"`
		PollDelayInitial string `yaml:"poll_delay_initial"`
		PollTimeoutTotal string `yaml:"poll_timeout_total"`
	} `yaml:"timing"`
	IgnorePorts []string `yaml:"ignore_ports"`
	Blocklist   []string `yaml:"blocklist"`
	Baud        int      `yaml:"baud"`
	Fast        bool     `yaml:"fast"`
	Debug       bool     `yaml:"debug"`
}

// settings is the resolved configuration of one run
type settings struct {
	port          string
	uid           []byte
	ignorePorts   []string
	blocklist     []string
	timing        st25dv.TimingParameters
	timeout       time.Duration
	retryDelay    time.Duration
	baud          int
	retryAttempts int
	fast          bool
	debug         bool
}

func defaultSettings() settings {
	return settings{
		baud:          uart.DefaultBaudRate,
		timing:        st25dv.DefaultTimingParameters(),
		retryAttempts: st25dv.DefaultRetryAttempts,
		retryDelay:    st25dv.DefaultRetryDelay,
	}
}

// loadConfigFile merges the YAML file at path into s
func loadConfigFile(path string, s *settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return fc.apply(s)
}

func (fc *fileConfig) apply(s *settings) error {
	if fc.Port != "" {
		s.port = fc.Port
	}
	if fc.Baud > 0 {
		s.baud = fc.Baud
	}
	if fc.UID != "" {
		uid, err := parseHex(fc.UID)
		if err != nil {
			return fmt.Errorf("invalid uid: %w", err)
		}
		s.uid = uid
	}
	s.ignorePorts = append(s.ignorePorts, fc.IgnorePorts...)
	s.blocklist = append(s.blocklist, fc.Blocklist...)
	if fc.Retry.Attempts > 0 {
		s.retryAttempts = fc.Retry.Attempts
	}
	s.fast = s.fast || fc.Fast
	s.debug = s.debug || fc.Debug

	durations := []struct {
		dst  *time.Duration
		name string
		src  string
	}{
		{&s.timeout, "timeout", fc.Timeout},
		{&s.retryDelay, "retry.delay", fc.Retry.Delay},
		{&s.timing.PrePollDelay, "timing.pre_poll_delay", fc.Timing.PrePollDelay},
		{&s.timing.PollDelayInitial, "timing.poll_delay_initial", fc.Timing.PollDelayInitial},
		{&s.timing.PollTimeoutTotal, "timing.poll_timeout_total", fc.Timing.PollTimeoutTotal},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// detectOptions returns the bridge detection filters
func (s settings) detectOptions() detection.Options {
	return detection.Options{
		Blocklist:   s.blocklist,
		IgnorePaths: s.ignorePorts,
	}
}

// options converts the settings to protocol options
func (s settings) options() []st25dv.Option {
	opts := []st25dv.Option{
		st25dv.WithTiming(s.timing),
		st25dv.WithRetryPolicy(s.retryAttempts, s.retryDelay),
	}
	if s.timeout > 0 {
		opts = append(opts, st25dv.WithConnectionTimeout(s.timeout))
	}
	if s.fast {
		opts = append(opts, st25dv.WithFastCommands())
	}
	return opts
}

// parseHex decodes hex with optional spaces, colons or a 0x prefix
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}
	return b, nil
}

// parseMessages decodes every argument as one hex message
func parseMessages(args []string) ([][]byte, error) {
	messages := make([][]byte, 0, len(args))
	for i, arg := range args {
		msg, err := parseHex(arg)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i+1, err)
		}
		if len(msg) == 0 || len(msg) > st25dv.MaxMessageSize {
			return nil, fmt.Errorf("message %d: length %d outside 1..%d", i+1, len(msg), st25dv.MaxMessageSize)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
