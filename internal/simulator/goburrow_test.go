// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"context"
	"testing"

	"github.com/ffutop/modbusctl/internal/device"
	rtupacket "github.com/ffutop/modbusctl/modbus/rtu"
	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simHandler replaces the serial transporter of a goburrow RTU handler,
// so goburrow encodes and verifies frames while the simulator answers them.
type simHandler struct {
	*modbus.RTUClientHandler
	sim *Simulator
}

func (h *simHandler) Send(aduRequest []byte) ([]byte, error) {
	req, err := rtupacket.Decode(aduRequest)
	if err != nil {
		return nil, err
	}
	resp, err := h.sim.Handle(context.Background(), req.SlaveID, req.Pdu)
	if err != nil {
		return nil, err
	}
	adu := &rtupacket.ApplicationDataUnit{SlaveID: req.SlaveID, Pdu: resp}
	return adu.Encode()
}

func newGoburrowClient(sim *Simulator, slaveID byte) (modbus.Client, *modbus.RTUClientHandler) {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = slaveID
	return modbus.NewClient(&simHandler{RTUClientHandler: handler, sim: sim}), handler
}

func TestSimulator_GoburrowClient(t *testing.T) {
	sim := newTestSimulator(t, device.DigitalIO)
	require.NoError(t, sim.SetInput(1, true))
	client, handler := newGoburrowClient(sim, 1)

	_, err := client.WriteSingleCoil(2, 0xFF00)
	require.NoError(t, err)
	results, err := client.ReadCoils(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, results)

	_, err = client.WriteMultipleCoils(0, 8, []byte{0xA5})
	require.NoError(t, err)
	results, err = client.ReadCoils(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5}, results)

	results, err = client.ReadDiscreteInputs(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, results)

	results, err = client.ReadHoldingRegisters(0x8000, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, DefaultVersion}, results)

	_, err = client.WriteSingleRegister(0x4000, 0x20)
	require.NoError(t, err)
	handler.SlaveId = 0x20
	results, err = client.ReadCoils(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5}, results)
}

func TestSimulator_GoburrowException(t *testing.T) {
	sim := newTestSimulator(t, device.Relay)
	client, _ := newGoburrowClient(sim, 1)

	_, err := client.WriteSingleRegister(0x8000, 1)
	var mbErr *modbus.ModbusError
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataAddress), mbErr.ExceptionCode)

	_, err = client.ReadDiscreteInputs(0, 16)
	require.ErrorAs(t, err, &mbErr)
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalFunction), mbErr.ExceptionCode)
}
