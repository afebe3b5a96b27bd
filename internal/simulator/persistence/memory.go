// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/ffutop/modbusctl/internal/simulator/model"

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct {
	channels int
}

func NewMemoryStorage(channels int) *MemoryStorage {
	return &MemoryStorage{channels: channels}
}

func (ms *MemoryStorage) Load() (*model.DataModel, error) {
	return model.NewDataModel(ms.channels), nil
}

func (ms *MemoryStorage) Save(model *model.DataModel) error {
	return nil
}

func (ms *MemoryStorage) OnWrite(table model.TableType, address, quantity uint16) {}

func (ms *MemoryStorage) Close() error {
	return nil
}
