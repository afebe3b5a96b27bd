// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbusctl/internal/device"
	"github.com/ffutop/modbusctl/internal/simulator"
	"github.com/ffutop/modbusctl/internal/simulator/persistence"
)

// runSimulate serves a simulated device until ctx is done. The serial port
// is reopened whenever a master changes the simulated baud rate.
func runSimulate(ctx context.Context, env *Env, args []string) error {
	fs := env.flagSet("simulate")
	inputList := fs.StringP("inputs", "I", "", "Input channels to switch on at start, starting with 1 (i.e. 1,3-4)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg := env.Config
	variant, err := device.LookupVariant(cfg.Device.Type)
	if err != nil {
		return err
	}
	if cfg.Serial.Device == "" {
		return fmt.Errorf("%w: no serial device given (-d)", device.ErrInvalidConfiguration)
	}
	if cfg.Simulator.Version < 0 || cfg.Simulator.Version > 0xFFFF {
		return fmt.Errorf("%w: simulator version %d out of range", device.ErrInvalidConfiguration, cfg.Simulator.Version)
	}
	var inputs []int
	if *inputList != "" {
		if inputs, err = ParseChannels(*inputList); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
	}

	storage, err := persistence.New(cfg.Simulator.Persistence, variant.Channels)
	if err != nil {
		return fmt.Errorf("%w: %v", device.ErrInvalidConfiguration, err)
	}

	// restart is replaced for every serving round; the callback runs on the serving goroutine.
	restart := func() {}
	sim, err := simulator.New(variant, cfg.Device.Address, cfg.Serial.BaudRate,
		simulator.WithStorage(storage),
		simulator.WithVersion(uint16(cfg.Simulator.Version)),
		simulator.OnBaudRateChange(func(rate int) { restart() }),
	)
	if err != nil {
		storage.Close()
		return err
	}
	defer func() {
		if err := sim.Close(); err != nil {
			slog.Error("Failed to save simulator memory", "err", err)
		}
	}()

	for _, ch := range inputs {
		if err := sim.SetInput(ch-1, true); err != nil {
			return fmt.Errorf("%w: %v", device.ErrInvalidConfiguration, err)
		}
	}

	for {
		serial := cfg.Serial
		serial.BaudRate = sim.BaudRate()

		serveCtx, cancel := context.WithCancel(ctx)
		restarted := false
		restart = func() {
			restarted = true
			cancel()
		}

		slog.Info("Simulating device", "type", variant.Name, "device", serial.Device, "address", sim.Address(), "baudRate", serial.BaudRate)
		err := env.newServer(serial).Start(serveCtx, sim.Handle)
		cancel()
		if err != nil {
			return err
		}
		if !restarted || ctx.Err() != nil {
			return nil
		}
		slog.Info("Reopening serial port", "device", serial.Device, "baudRate", sim.BaudRate())
	}
}
