// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package command

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

func runConfig(ctx context.Context, env *Env, args []string) error {
	fs := env.flagSet("config")
	baudRate := fs.IntP("set-baudrate", "B", 0, "New baudrate to set")
	address := fs.StringP("set-address", "A", "", "New device address to set (i.e. 0x20)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	newAddress := 0
	if *address != "" {
		v, err := strconv.ParseInt(*address, 0, 0)
		if err != nil {
			return fmt.Errorf("%w: invalid address %q: %v", ErrUsage, *address, err)
		}
		newAddress = int(v)
	}

	d, err := env.openDevice(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	if *baudRate != 0 {
		if err := d.SetBaudRate(ctx, *baudRate); err != nil {
			return err
		}
		slog.Info("Device baudrate changed", "baudRate", d.BaudRate())
	}
	if *address != "" {
		if err := d.SetAddress(ctx, newAddress); err != nil {
			return err
		}
		slog.Info("Device address changed", "address", fmt.Sprintf("%#02x", d.Address()))
	}
	if *baudRate != 0 || *address != "" {
		return nil
	}

	version, err := d.SoftwareVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out(), "Device software version: %d\n", version)
	fmt.Fprintf(env.out(), "Device address: %02x\n", d.Address())
	return nil
}
