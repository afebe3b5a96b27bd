// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbusctl/modbus"
)

// Protocol limits for a single request.
const (
	maxReadBits      = 2000
	maxWriteBits     = 1968
	maxReadRegisters = 125
)

// Client implements Transport on top of any Downstream.
type Client struct {
	Downstream
}

// NewClient wraps ds. The caller is expected to have connected it.
func NewClient(ds Downstream) *Client {
	return &Client{Downstream: ds}
}

// ReadCoils reads quantity coils starting at address.
func (c *Client) ReadCoils(ctx context.Context, slaveID byte, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, slaveID, modbus.FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, slaveID byte, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, slaveID, modbus.FuncCodeReadDiscreteInputs, address, quantity)
}

func (c *Client) readBits(ctx context.Context, slaveID, funcCode byte, address, quantity uint16) ([]bool, error) {
	if quantity < 1 || quantity > maxReadBits {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, maxReadBits)
	}
	resp, err := c.send(ctx, slaveID, funcCode, dataBlock(address, quantity))
	if err != nil {
		return nil, err
	}
	byteCount := (int(quantity) + 7) / 8
	if len(resp.Data) != byteCount+1 || int(resp.Data[0]) != byteCount {
		return nil, fmt.Errorf("modbus: response byte count '%v' does not match expected '%v'", len(resp.Data)-1, byteCount)
	}
	return UnpackBits(resp.Data[1:], int(quantity)), nil
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (c *Client) ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > maxReadRegisters {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, maxReadRegisters)
	}
	resp, err := c.send(ctx, slaveID, modbus.FuncCodeReadHoldingRegisters, dataBlock(address, quantity))
	if err != nil {
		return nil, err
	}
	byteCount := int(quantity) * 2
	if len(resp.Data) != byteCount+1 || int(resp.Data[0]) != byteCount {
		return nil, fmt.Errorf("modbus: response byte count '%v' does not match expected '%v'", len(resp.Data)-1, byteCount)
	}
	registers := make([]uint16, quantity)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(resp.Data[1+i*2:])
	}
	return registers, nil
}

// WriteSingleCoil switches the coil at address on or off.
func (c *Client) WriteSingleCoil(ctx context.Context, slaveID byte, address uint16, value bool) error {
	v := modbus.CoilOff
	if value {
		v = modbus.CoilOn
	}
	resp, err := c.send(ctx, slaveID, modbus.FuncCodeWriteSingleCoil, dataBlock(address, v))
	if err != nil {
		return err
	}
	return verifyEcho(resp, address, v)
}

// WriteMultipleCoils writes values to consecutive coils starting at address in one request.
func (c *Client) WriteMultipleCoils(ctx context.Context, slaveID byte, address uint16, values []bool) error {
	quantity := len(values)
	if quantity < 1 || quantity > maxWriteBits {
		return fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, maxWriteBits)
	}
	packed := PackBits(values)
	data := dataBlock(address, uint16(quantity))
	data = append(data, byte(len(packed)))
	data = append(data, packed...)

	resp, err := c.send(ctx, slaveID, modbus.FuncCodeWriteMultipleCoils, data)
	if err != nil {
		return err
	}
	return verifyEcho(resp, address, uint16(quantity))
}

// WriteSingleRegister writes value to the holding register at address.
func (c *Client) WriteSingleRegister(ctx context.Context, slaveID byte, address, value uint16) error {
	resp, err := c.send(ctx, slaveID, modbus.FuncCodeWriteSingleRegister, dataBlock(address, value))
	if err != nil {
		return err
	}
	return verifyEcho(resp, address, value)
}

func (c *Client) send(ctx context.Context, slaveID, funcCode byte, data []byte) (modbus.ProtocolDataUnit, error) {
	resp, err := c.Downstream.Send(ctx, slaveID, modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: data})
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if resp.FunctionCode == funcCode|0x80 {
		var code byte
		if len(resp.Data) > 0 {
			code = resp.Data[0]
		}
		return modbus.ProtocolDataUnit{}, &modbus.Error{FunctionCode: funcCode, ExceptionCode: code}
	}
	if resp.FunctionCode != funcCode {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: response function code '%v' does not match request '%v'", resp.FunctionCode, funcCode)
	}
	return resp, nil
}

// verifyEcho checks a write response repeating the request address and value.
func verifyEcho(resp modbus.ProtocolDataUnit, address, value uint16) error {
	if len(resp.Data) != 4 {
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'", len(resp.Data), 4)
	}
	if got := binary.BigEndian.Uint16(resp.Data); got != address {
		return fmt.Errorf("modbus: response address '%v' does not match request '%v'", got, address)
	}
	if got := binary.BigEndian.Uint16(resp.Data[2:]); got != value {
		return fmt.Errorf("modbus: response value '%v' does not match request '%v'", got, value)
	}
	return nil
}

func dataBlock(values ...uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// PackBits packs bits LSB first, bit i into byte i/8.
func PackBits(bits []bool) []byte {
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed
}

// UnpackBits is the inverse of PackBits for the first count bits.
func UnpackBits(packed []byte, count int) []bool {
	bits := make([]bool, count)
	for i := range bits {
		bits[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}
	return bits
}
