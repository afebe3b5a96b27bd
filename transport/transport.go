// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/modbusctl/modbus"
)

// RequestHandler answers a request PDU addressed to slaveID.
// Returning an error means the slave stays silent.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream represents a source of requests (a Modbus master talking to us).
// It acts as a Server.
type Upstream interface {
	// Start serves requests and blocks until ctx is done.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Downstream represents a destination for requests (a Modbus slave we talk to).
// It acts as a Client.
type Downstream interface {
	// Send sends a PDU to a specific SlaveID and returns the response PDU.
	Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}

// Transport is the coil and register access a device driver needs.
// Bit slices are in coil order: index i is the bit at address+i.
type Transport interface {
	ReadCoils(ctx context.Context, slaveID byte, address, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(ctx context.Context, slaveID byte, address, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]uint16, error)
	WriteSingleCoil(ctx context.Context, slaveID byte, address uint16, value bool) error
	WriteMultipleCoils(ctx context.Context, slaveID byte, address uint16, values []bool) error
	WriteSingleRegister(ctx context.Context, slaveID byte, address, value uint16) error
	Close() error
}
