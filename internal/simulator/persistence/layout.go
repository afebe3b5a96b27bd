// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/modbusctl/internal/simulator/model"
)

const sizeHolding = (model.MaxAddress + 1) * 2

// layout places the tables of a channels wide device in one byte slice:
// coils, discrete inputs, then holding registers.
type layout struct {
	channels int
}

func (l layout) offsetDiscrete() int { return l.channels }

// offsetHolding is always even, keeping the uint16 table aligned.
func (l layout) offsetHolding() int { return 2 * l.channels }

func (l layout) size() int { return l.offsetHolding() + sizeHolding }

// mapBytesToModel constructs a DataModel backed by the provided data slice.
// Holding registers are cast in place and use the host's endianness, so a
// file is only portable between hosts of the same byte order. data must be
// at least l.size() bytes and 2-byte aligned, which a page-aligned mapping is.
func (l layout) mapBytesToModel(data []byte) *model.DataModel {
	m := &model.DataModel{}

	m.Coils = data[0:l.channels:l.channels]
	m.DiscreteInputs = data[l.offsetDiscrete() : l.offsetDiscrete()+l.channels : l.offsetDiscrete()+l.channels]

	holdingBytes := data[l.offsetHolding() : l.offsetHolding()+sizeHolding]
	m.HoldingRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)

	return m
}
