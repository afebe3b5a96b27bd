// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ffutop/modbusctl/modbus"
)

// scriptedDownstream records the request and answers with a fixed PDU.
type scriptedDownstream struct {
	slaveID byte
	request modbus.ProtocolDataUnit
	resp    modbus.ProtocolDataUnit
	err     error
}

func (s *scriptedDownstream) Send(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	s.slaveID = slaveID
	s.request = pdu
	return s.resp, s.err
}

func (s *scriptedDownstream) Connect(ctx context.Context) error { return nil }
func (s *scriptedDownstream) Close() error                      { return nil }

func TestClient_ReadCoils(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x01, Data: []byte{0x02, 0x05, 0x80}}}
	c := NewClient(ds)

	bits, err := c.ReadCoils(context.Background(), 3, 0, 16)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if ds.slaveID != 3 {
		t.Errorf("slave id = %v, want 3", ds.slaveID)
	}
	if !bytes.Equal(ds.request.Data, []byte{0x00, 0x00, 0x00, 0x10}) {
		t.Errorf("request data = %X", ds.request.Data)
	}
	want := make([]bool, 16)
	want[0], want[2], want[15] = true, true, true
	if !reflect.DeepEqual(bits, want) {
		t.Errorf("ReadCoils = %v, want %v", bits, want)
	}
}

func TestClient_ReadDiscreteInputs_ByteCountMismatch(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x02, Data: []byte{0x02, 0x01, 0x00}}}
	c := NewClient(ds)

	if _, err := c.ReadDiscreteInputs(context.Background(), 1, 0, 8); err == nil {
		t.Error("expected byte count error, got nil")
	}
}

func TestClient_ReadHoldingRegisters(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0x01, 0x2C}}}
	c := NewClient(ds)

	regs, err := c.ReadHoldingRegisters(context.Background(), 1, 0x8000, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if len(regs) != 1 || regs[0] != 300 {
		t.Errorf("ReadHoldingRegisters = %v, want [300]", regs)
	}
	if !bytes.Equal(ds.request.Data, []byte{0x80, 0x00, 0x00, 0x01}) {
		t.Errorf("request data = %X", ds.request.Data)
	}
}

func TestClient_WriteSingleCoil(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x05, Data: []byte{0x00, 0x02, 0xFF, 0x00}}}
	c := NewClient(ds)

	if err := c.WriteSingleCoil(context.Background(), 1, 2, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	if !bytes.Equal(ds.request.Data, []byte{0x00, 0x02, 0xFF, 0x00}) {
		t.Errorf("request data = %X", ds.request.Data)
	}

	// echo carrying another value
	ds.resp.Data = []byte{0x00, 0x02, 0x00, 0x00}
	if err := c.WriteSingleCoil(context.Background(), 1, 2, true); err == nil {
		t.Error("expected echo mismatch error, got nil")
	}
}

func TestClient_WriteMultipleCoils(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x0F, Data: []byte{0x00, 0x00, 0x00, 0x0A}}}
	c := NewClient(ds)

	values := []bool{true, false, false, true, false, false, false, false, true, true}
	if err := c.WriteMultipleCoils(context.Background(), 1, 0, values); err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}
	want := []byte{0x00, 0x00, 0x00, 0x0A, 0x02, 0x09, 0x03}
	if !bytes.Equal(ds.request.Data, want) {
		t.Errorf("request data = %X, want %X", ds.request.Data, want)
	}
}

func TestClient_WriteSingleRegister(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x06, Data: []byte{0x40, 0x00, 0x00, 0x20}}}
	c := NewClient(ds)

	if err := c.WriteSingleRegister(context.Background(), 1, 0x4000, 0x20); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
}

func TestClient_Exception(t *testing.T) {
	ds := &scriptedDownstream{resp: modbus.ProtocolDataUnit{FunctionCode: 0x86, Data: []byte{0x03}}}
	c := NewClient(ds)

	err := c.WriteSingleRegister(context.Background(), 1, 0x2000, 0x09)
	var mbErr *modbus.Error
	if !errors.As(err, &mbErr) {
		t.Fatalf("expected *modbus.Error, got %v", err)
	}
	if mbErr.FunctionCode != 0x06 || mbErr.ExceptionCode != modbus.ExceptionCodeIllegalDataValue {
		t.Errorf("unexpected exception %+v", mbErr)
	}
}

func TestClient_DownstreamError(t *testing.T) {
	sendErr := errors.New("line down")
	c := NewClient(&scriptedDownstream{err: sendErr})

	if _, err := c.ReadCoils(context.Background(), 1, 0, 8); !errors.Is(err, sendErr) {
		t.Errorf("ReadCoils error = %v, want %v", err, sendErr)
	}
}

func TestPackBits(t *testing.T) {
	bits := []bool{true, true, false, false, true, false, false, false, false, true}
	packed := PackBits(bits)
	if !bytes.Equal(packed, []byte{0x13, 0x02}) {
		t.Fatalf("PackBits = %X, want 13 02", packed)
	}
	if got := UnpackBits(packed, len(bits)); !reflect.DeepEqual(got, bits) {
		t.Errorf("UnpackBits = %v, want %v", got, bits)
	}
}
