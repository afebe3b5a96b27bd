// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/modbusctl/modbus"
	"github.com/ffutop/modbusctl/modbus/crc"
)

// ApplicationDataUnit is a PDU addressed to one slave on the serial line.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode parses a raw RTU frame and checks its CRC.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		err = fmt.Errorf("modbus: frame length '%v' does not meet minimum '%v'", length, MinSize)
		return
	}

	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if expected := crc.Checksum(raw[0 : length-2]); checksum != expected {
		err = fmt.Errorf("modbus: response crc '%v' does not match expected '%v'", checksum, expected)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, MaxSize)
		return
	}
	raw = make([]byte, length)

	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	// Append crc, low byte first
	checksum := crc.Checksum(raw[0 : length-2])
	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return
}

// Verify verifies that resp answers req: same slave id and either the same
// function code or its exception counterpart.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("modbus: response slave id '%v' does not match request '%v'", resp.SlaveID, req.SlaveID)
		return
	}
	if resp.Pdu.FunctionCode&0x7F != req.Pdu.FunctionCode {
		err = fmt.Errorf("modbus: response function code '%v' does not match request '%v'", resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
		return
	}
	if resp.Pdu.IsException() && len(resp.Pdu.Data) != 1 {
		err = fmt.Errorf("modbus: exception response data length '%v' does not match expected '%v'", len(resp.Pdu.Data), 1)
		return
	}
	return
}
