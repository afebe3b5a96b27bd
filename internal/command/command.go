// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package command implements the modbusctl subcommands.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/internal/device"
	"github.com/ffutop/modbusctl/transport"
	"github.com/ffutop/modbusctl/transport/rtu"
	"github.com/spf13/pflag"
)

// ErrUsage marks malformed command lines.
var ErrUsage = errors.New("usage error")

// Env is what a subcommand runs against.
type Env struct {
	Config *config.Config
	Out    io.Writer // command output, os.Stdout if nil
	Err    io.Writer // flag errors and help, os.Stderr if nil

	// Opener connects devices, device.OpenRTU if nil.
	Opener device.Opener
	// NewServer creates the serial slave for simulate, rtu.NewServer if nil.
	NewServer func(cfg config.SerialConfig) transport.Upstream
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Env) errOut() io.Writer {
	if e.Err == nil {
		return os.Stderr
	}
	return e.Err
}

func (e *Env) newServer(cfg config.SerialConfig) transport.Upstream {
	if e.NewServer == nil {
		return rtu.NewServer(cfg)
	}
	return e.NewServer(cfg)
}

// Command is a modbusctl subcommand.
type Command struct {
	Name    string
	Summary string
	Run     func(ctx context.Context, env *Env, args []string) error
}

// Commands lists the subcommands in help order.
func Commands() []Command {
	return []Command{
		{Name: "read", Summary: "read channel values", Run: runRead},
		{Name: "write", Summary: "write channel values", Run: runWrite},
		{Name: "config", Summary: "show or change the device configuration", Run: runConfig},
		{Name: "simulate", Summary: "serve a simulated device on the serial device", Run: runSimulate},
	}
}

// Lookup finds a subcommand by name.
func Lookup(name string) (Command, bool) {
	for _, c := range Commands() {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// ExitCode maps a command error to the process exit status:
// 0 on success, 2 for usage and configuration errors and 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, ErrUsage), errors.Is(err, device.ErrInvalidConfiguration):
		return 2
	default:
		return 1
	}
}

func (e *Env) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.errOut())
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %q", ErrUsage, fs.Args())
	}
	return nil
}

func (e *Env) openDevice(ctx context.Context) (*device.Device, error) {
	variant, err := device.LookupVariant(e.Config.Device.Type)
	if err != nil {
		return nil, err
	}
	if e.Config.Serial.Device == "" {
		return nil, fmt.Errorf("%w: no serial device given (-d)", device.ErrInvalidConfiguration)
	}
	var opts []device.Option
	if e.Opener != nil {
		opts = append(opts, device.WithOpener(e.Opener))
	}
	return device.Open(ctx, variant, e.Config.Serial, e.Config.Device.Address, opts...)
}

// ParseChannels parses a comma separated list of channel numbers and
// ranges, e.g. "1,3,5-8". Range checks against the device are left to the caller.
func ParseChannels(input string) ([]int, error) {
	var channels []int
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				channels = append(channels, i)
			}
		} else {
			ch, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid channel: %w", err)
			}
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels in %q", input)
	}
	return channels, nil
}

// ParseBool is false for "", "false", "0", "no" and "off" in any case, true otherwise.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

func formatValues(values []bool) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = "00"
		if v {
			parts[i] = "01"
		}
	}
	return strings.Join(parts, " ")
}
