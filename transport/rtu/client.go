// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/modbus"
	rtupacket "github.com/ffutop/modbusctl/modbus/rtu"
	"github.com/ffutop/modbusctl/transport"
)

// Client is a Modbus RTU master on one serial line. Requests are serialized.
type Client struct {
	serialPort
}

// NewClient allocates a RTU Client. The port is opened by Connect or the first Send.
func NewClient(cfg config.SerialConfig) *Client {
	c := &Client{}
	c.Config = serialConfig(cfg)
	return c
}

// Open connects a RTU Client on cfg and returns it as a Transport.
func Open(ctx context.Context, cfg config.SerialConfig) (*transport.Client, error) {
	c := NewClient(cfg)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return transport.NewClient(c), nil
}

// Send frames pdu for slaveID and waits for the matching response.
func (c *Client) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	req := &rtupacket.ApplicationDataUnit{SlaveID: slaveID, Pdu: pdu}
	raw, err := req.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	raw, err = c.exchange(ctx, raw)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	resp, err := rtupacket.Decode(raw)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}
	if err := req.Verify(resp); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}
	return resp.Pdu, nil
}

// exchange writes one request frame and reads back one response frame.
// The read gives up at the earlier of the port timeout and the ctx deadline.
func (c *Client) exchange(ctx context.Context, request []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	frameLog.Debug("send to modbus slave", "device", c.Config.Address, "request", hex.EncodeToString(request))
	if _, err := c.port.Write(request); err != nil {
		return nil, err
	}

	// Give the slave the time to receive the request and transmit the answer.
	wait := c.calculateDelay(len(request) + rtupacket.CalculateResponseLength(request))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}

	deadline := time.Now().Add(c.Config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	response, err := rtupacket.ReadResponse(request[0], request[1], c.port, deadline)
	if err != nil {
		return nil, err
	}
	frameLog.Debug("recv from modbus slave", "device", c.Config.Address, "response", hex.EncodeToString(response))
	return response, nil
}

// calculateDelay returns the line time of chars characters plus the 3.5
// character inter-frame gap. Above 19200 baud the fixed timings apply.
func (c *Client) calculateDelay(chars int) time.Duration {
	characterDelay, frameDelay := 750, 1750 // microseconds
	if c.Config.BaudRate > 0 && c.Config.BaudRate <= 19200 {
		characterDelay = 15000000 / c.Config.BaudRate
		frameDelay = 35000000 / c.Config.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
