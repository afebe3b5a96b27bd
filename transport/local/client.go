// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/internal/simulator"
	"github.com/ffutop/modbusctl/modbus"
	rtupacket "github.com/ffutop/modbusctl/modbus/rtu"
	"github.com/ffutop/modbusctl/transport"
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("local: client closed")

// Client implements Downstream interface for an in-process simulated device.
// Like a serial line, requests go unanswered while the client and the device
// disagree on the baud rate.
type Client struct {
	sim      *simulator.Simulator
	baudRate int

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client talking to sim at baudRate. A zero baudRate
// always matches.
func NewClient(sim *simulator.Simulator, baudRate int) *Client {
	return &Client{sim: sim, baudRate: baudRate}
}

// Opener returns an open function with the signature of rtu.Open that
// connects to sim instead of a serial port.
func Opener(sim *simulator.Simulator) func(ctx context.Context, cfg config.SerialConfig) (*transport.Client, error) {
	return func(ctx context.Context, cfg config.SerialConfig) (*transport.Client, error) {
		c := NewClient(sim, cfg.BaudRate)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return transport.NewClient(c), nil
	}
}

// Send processes the PDU in the simulator.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return modbus.ProtocolDataUnit{}, ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if c.baudRate != 0 && c.baudRate != c.sim.BaudRate() {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("line at %d baud, device at %d: %w", c.baudRate, c.sim.BaudRate(), rtupacket.ErrRequestTimedOut)
	}

	resp, err := c.sim.Handle(ctx, slaveID, pdu)
	if err != nil || slaveID == rtupacket.BroadcastID {
		return modbus.ProtocolDataUnit{}, rtupacket.ErrRequestTimedOut
	}
	return resp, nil
}

// Connect is a no-op for the simulator.
func (c *Client) Connect(ctx context.Context) error {
	return ctx.Err()
}

// Close detaches the client. The simulator stays owned by the caller.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}
