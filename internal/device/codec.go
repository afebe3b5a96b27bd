// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"encoding/binary"
	"fmt"
)

// BitsToUint32 packs 32 bits MSB-first and reinterprets the little-endian
// bytes of the result in the given order. Big order therefore swaps the bytes.
func BitsToUint32(bits []bool, order binary.ByteOrder) uint32 {
	if len(bits) != 32 {
		panic(fmt.Sprintf("device: BitsToUint32 needs 32 bits, got %d", len(bits)))
	}
	var v uint32
	for _, b := range bits {
		v <<= 1
		if b {
			v |= 1
		}
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return order.Uint32(buf[:])
}

// ChannelBitsToValues converts the bits read from the device into channel
// values, index 0 being channel 1. Devices with 32 channels store the value
// register big-endian, all others MSB-first.
func ChannelBitsToValues(bits []bool, channels int) []bool {
	if len(bits) != channels {
		panic(fmt.Sprintf("device: got %d bits for %d channels", len(bits), channels))
	}
	if channels > 64 {
		panic(fmt.Sprintf("device: %d channels exceed the value register", channels))
	}

	var register uint64
	if channels == 32 {
		register = uint64(BitsToUint32(bits, binary.BigEndian))
	} else {
		for _, b := range bits {
			register <<= 1
			if b {
				register |= 1
			}
		}
	}

	values := make([]bool, channels)
	for k := range values {
		values[k] = register>>(channels-1-k)&1 == 1
	}
	return values
}
