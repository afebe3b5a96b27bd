// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator implements a relay or digital I/O bank as a Modbus slave,
// including the baud rate, address and version configuration registers.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbusctl/internal/device"
	"github.com/ffutop/modbusctl/internal/simulator/model"
	"github.com/ffutop/modbusctl/internal/simulator/persistence"
	"github.com/ffutop/modbusctl/modbus"
	rtupacket "github.com/ffutop/modbusctl/modbus/rtu"
)

// DefaultVersion is reported by the version register unless WithVersion is given.
const DefaultVersion = 100

// ErrNotAddressed is returned by Handle for requests to other slaves.
var ErrNotAddressed = errors.New("simulator: request not addressed to this device")

// Option configures a Simulator.
type Option func(*Simulator)

// WithStorage backs the device memory by s. The Simulator owns s and closes it.
func WithStorage(s persistence.Storage) Option {
	return func(sim *Simulator) {
		sim.storage = s
	}
}

// WithVersion sets the software version register.
func WithVersion(v uint16) Option {
	return func(sim *Simulator) {
		sim.version = v
	}
}

// OnBaudRateChange registers fn to be called with the new rate after the
// baud rate register was written. fn runs before the response is sent.
func OnBaudRateChange(fn func(rate int)) Option {
	return func(sim *Simulator) {
		sim.onBaudRate = fn
	}
}

// Simulator answers Modbus requests on behalf of one device.
type Simulator struct {
	variant    device.Variant
	model      *model.DataModel
	storage    persistence.Storage
	version    uint16
	onBaudRate func(rate int)
}

// New creates a simulated device. address and baudRate are the factory
// settings, used unless the storage already holds a configured device.
func New(variant device.Variant, address, baudRate int, opts ...Option) (*Simulator, error) {
	if err := device.ValidateAddress(address); err != nil {
		return nil, err
	}
	code, err := device.BaudRateCode(baudRate)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		variant: variant,
		version: DefaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage == nil {
		s.storage = persistence.NewMemoryStorage(variant.Channels)
	}

	m, err := s.storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load simulator memory: %w", err)
	}
	s.model = m

	// Address 0 is never assigned, so it marks memory that was never configured.
	if m.Register(device.AddressRegister) == 0 {
		m.WriteSingleRegister(device.AddressRegister, uint16(address))
		m.WriteSingleRegister(device.BaudRateRegister, code)
	}
	m.WriteSingleRegister(device.VersionRegister, s.version)
	s.storage.OnWrite(model.TableHoldingRegisters, device.AddressRegister, 1)

	slog.Debug("Simulator ready", "type", variant.Name, "address", s.Address(), "baudRate", s.BaudRate())
	return s, nil
}

// Variant returns the simulated device model.
func (s *Simulator) Variant() device.Variant { return s.variant }

// Address returns the current bus address.
func (s *Simulator) Address() int {
	return int(s.model.Register(device.AddressRegister))
}

// BaudRate returns the current line speed.
func (s *Simulator) BaudRate() int {
	rate, _ := device.BaudRateFromCode(s.model.Register(device.BaudRateRegister))
	return rate
}

// Outputs returns the coil states, index 0 being channel 1.
func (s *Simulator) Outputs() []bool {
	return s.model.Bits(model.TableCoils)
}

// Inputs returns the discrete input states, index 0 being channel 1.
func (s *Simulator) Inputs() []bool {
	return s.model.Bits(model.TableDiscreteInputs)
}

// SetInput drives the input at 0-based index.
func (s *Simulator) SetInput(index int, on bool) error {
	if !s.variant.Capabilities.InputChannels {
		return fmt.Errorf("%s has no input channels", s.variant.Name)
	}
	if index < 0 || index >= s.variant.Channels {
		return fmt.Errorf("invalid input index: %d", index)
	}
	if err := s.model.SetDiscreteInput(uint16(index), on); err != nil {
		return err
	}
	s.storage.OnWrite(model.TableDiscreteInputs, uint16(index), 1)
	return nil
}

// Handle is a transport.RequestHandler. Requests for other slaves return
// ErrNotAddressed; broadcasts are processed.
func (s *Simulator) Handle(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if slaveID != rtupacket.BroadcastID && int(slaveID) != s.Address() {
		return modbus.ProtocolDataUnit{}, ErrNotAddressed
	}
	return s.Process(req), nil
}

// Process executes the Modbus Function Code against the device memory.
func (s *Simulator) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleReadBits(req, s.model.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		if !s.variant.Capabilities.InputChannels {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
		}
		return s.handleReadBits(req, s.model.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	default:
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Simulator) handleReadBits(req modbus.ProtocolDataUnit, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 2000 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := read(address, quantity)
	if err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte{byte(len(data))}, data...),
	}
}

func (s *Simulator) handleReadHoldingRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > 125 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := s.model.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte{byte(len(data))}, data...),
	}
}

func (s *Simulator) handleWriteSingleCoil(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := s.model.WriteSingleCoil(address, value); err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	s.storage.OnWrite(model.TableCoils, address, 1)

	return req // Echo request
}

func (s *Simulator) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 1968 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if len(req.Data)-5 != int(byteCount) || int(byteCount) != (int(quantity)+7)/8 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := s.model.WriteMultipleCoils(address, quantity, req.Data[5:]); err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	s.storage.OnWrite(model.TableCoils, address, quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte(nil), req.Data[:4]...),
	}
}

func (s *Simulator) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	newRate := 0
	switch address {
	case device.BaudRateRegister:
		rate, ok := device.BaudRateFromCode(value)
		if !ok {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		newRate = rate
		slog.Info("Simulator baud rate changed", "from", s.BaudRate(), "to", rate)
	case device.AddressRegister:
		if device.ValidateAddress(int(value)) != nil {
			return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		slog.Info("Simulator address changed", "from", s.Address(), "to", value)
	case device.VersionRegister:
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	s.model.WriteSingleRegister(address, value)
	s.storage.OnWrite(model.TableHoldingRegisters, address, 1)
	if newRate != 0 && s.onBaudRate != nil {
		s.onBaudRate(newRate)
	}

	return req // Echo request
}

// Close saves the device memory and releases the storage.
func (s *Simulator) Close() error {
	err := s.storage.Save(s.model)
	if cerr := s.storage.Close(); err == nil {
		err = cerr
	}
	return err
}

func exceptionFor(funcCode byte, err error) modbus.ProtocolDataUnit {
	if errors.Is(err, model.ErrIllegalValue) {
		return modbus.Exception(funcCode, modbus.ExceptionCodeIllegalDataValue)
	}
	return modbus.Exception(funcCode, modbus.ExceptionCodeIllegalDataAddress)
}
