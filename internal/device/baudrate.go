// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import "slices"

// Configuration registers (holding registers).
const (
	BaudRateRegister uint16 = 0x2000
	AddressRegister  uint16 = 0x4000
	VersionRegister  uint16 = 0x8000 // read-only
)

// Valid bus addresses. 0 is the broadcast address and never assigned.
const (
	MinAddress = 1
	MaxAddress = 255
)

var baudRateCodes = map[int]uint16{
	4800:   0x00,
	9600:   0x01,
	19200:  0x02,
	38400:  0x03,
	57600:  0x04,
	115200: 0x05,
	128000: 0x06,
	256000: 0x07,
}

// BaudRateCode returns the register code for rate.
func BaudRateCode(rate int) (uint16, error) {
	code, ok := baudRateCodes[rate]
	if !ok {
		return 0, invalidf("baudrate %d is not supported", rate)
	}
	return code, nil
}

// BaudRateFromCode is the inverse of BaudRateCode.
func BaudRateFromCode(code uint16) (int, bool) {
	for rate, c := range baudRateCodes {
		if c == code {
			return rate, true
		}
	}
	return 0, false
}

// BaudRates lists the supported baud rates in ascending order.
func BaudRates() []int {
	rates := make([]int, 0, len(baudRateCodes))
	for rate := range baudRateCodes {
		rates = append(rates, rate)
	}
	slices.Sort(rates)
	return rates
}

// ValidateAddress checks that addr can be assigned to a device.
func ValidateAddress(addr int) error {
	if addr < MinAddress || addr > MaxAddress {
		return invalidf("address %#x is out of valid range 0x01-0xff", addr)
	}
	return nil
}
