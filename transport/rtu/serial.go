// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/grid-x/serial"
)

// frameLog receives hex dumps of every frame. Discarded unless SetFrameLogger is called.
var frameLog = slog.New(slog.DiscardHandler)

// SetFrameLogger routes frame dumps to l at debug level.
func SetFrameLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	frameLog = l
}

// serialConfig maps internal config to serial.Config.
func serialConfig(cfg config.SerialConfig) serial.Config {
	c := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if cfg.RS485 {
		c.RS485.Enabled = true
		c.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		c.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		c.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		c.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		c.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return c
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

func (sp *serialPort) Connect(ctx context.Context) (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (sp *serialPort) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if sp.port == nil {
		port, err := serial.Open(&sp.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", sp.Config.Address, err)
		}
		slog.Debug("serial port opened", "device", sp.Config.Address, "baudRate", sp.Config.BaudRate)
		sp.port = port
	}
	return nil
}

func (sp *serialPort) Close() (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (sp *serialPort) close() (err error) {
	if sp.port != nil {
		err = sp.port.Close()
		sp.port = nil
		slog.Debug("serial port closed", "device", sp.Config.Address)
	}
	return
}
