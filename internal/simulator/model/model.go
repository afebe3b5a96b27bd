// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

var (
	// ErrIllegalAddress maps to the illegal data address exception.
	ErrIllegalAddress = errors.New("address range out of bounds")
	// ErrIllegalValue maps to the illegal data value exception.
	ErrIllegalValue = errors.New("illegal value")
)

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
)

// DataModel holds the memory of a simulated device.
// Coils and discrete inputs exist once per channel, holding registers cover
// the full 16-bit address space.
type DataModel struct {
	mu sync.RWMutex

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
}

// NewDataModel creates a zeroed model for a device with the given channel count.
func NewDataModel(channels int) *DataModel {
	return &DataModel{
		Coils:            make([]byte, channels),
		DiscreteInputs:   make([]byte, channels),
		HoldingRegisters: make([]uint16, MaxAddress+1),
	}
}

// ReadCoils reads a range of coils and returns them as packed bytes (Modbus format).
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return packBits(m.Coils, address, quantity)
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteSingleCoil(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(address) >= len(m.Coils) {
		return fmt.Errorf("coil %d: %w", address, ErrIllegalAddress)
	}

	switch value {
	case 0xFF00:
		m.Coils[address] = 1
	case 0x0000:
		m.Coils[address] = 0
	default:
		return fmt.Errorf("coil value %#04x: %w", value, ErrIllegalValue)
	}
	return nil
}

// WriteMultipleCoils writes a range of coils from packed bytes.
func (m *DataModel) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validateRange(len(m.Coils), address, quantity); err != nil {
		return err
	}

	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("insufficient data length: %w", ErrIllegalValue)
	}

	for i := 0; i < int(quantity); i++ {
		m.Coils[int(address)+i] = (data[i/8] >> uint(i%8)) & 1
	}
	return nil
}

// ReadDiscreteInputs reads a range of discrete inputs and returns them as packed bytes.
func (m *DataModel) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return packBits(m.DiscreteInputs, address, quantity)
}

// SetDiscreteInput drives the discrete input at address.
func (m *DataModel) SetDiscreteInput(address uint16, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(address) >= len(m.DiscreteInputs) {
		return fmt.Errorf("discrete input %d: %w", address, ErrIllegalAddress)
	}
	m.DiscreteInputs[address] = 0
	if on {
		m.DiscreteInputs[address] = 1
	}
	return nil
}

// ReadHoldingRegisters reads a range of holding registers and returns them as BigEndian bytes.
func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := validateRange(len(m.HoldingRegisters), address, quantity); err != nil {
		return nil, err
	}

	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], m.HoldingRegisters[int(address)+i])
	}
	return result, nil
}

// Register returns a single holding register.
func (m *DataModel) Register(address uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.HoldingRegisters[address]
}

// WriteSingleRegister writes a single holding register.
func (m *DataModel) WriteSingleRegister(address uint16, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HoldingRegisters[address] = value
}

// Bits returns a copy of a bit table as booleans.
func (m *DataModel) Bits(table TableType) []bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.Coils
	if table == TableDiscreteInputs {
		src = m.DiscreteInputs
	}
	bits := make([]bool, len(src))
	for i, b := range src {
		bits[i] = b != 0
	}
	return bits
}

// packBits packs table[address:address+quantity] LSB first. Caller must hold the lock.
func packBits(table []byte, address, quantity uint16) ([]byte, error) {
	if err := validateRange(len(table), address, quantity); err != nil {
		return nil, err
	}
	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if table[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

func validateRange(size int, address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0: %w", ErrIllegalValue)
	}
	// address is 0-based.
	if int(address)+int(quantity) > size {
		return fmt.Errorf("%d+%d exceeds %d: %w", address, quantity, size, ErrIllegalAddress)
	}
	return nil
}
