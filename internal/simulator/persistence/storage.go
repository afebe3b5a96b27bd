// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/internal/simulator/model"
)

// Storage defines the interface for persisting the simulator data model.
type Storage interface {
	// Load loads the data model from storage.
	// If no data exists, it returns a new zeroed model.
	Load() (*model.DataModel, error)

	// Save saves the current data model to storage.
	Save(model *model.DataModel) error

	// OnWrite is a hook called whenever the model is modified.
	OnWrite(table model.TableType, address, quantity uint16)

	// Close releases the backing resources.
	Close() error
}

// New creates the storage selected by cfg for a device with channels channels.
func New(cfg config.PersistenceConfig, channels int) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		slog.Debug("Initializing simulator with memory storage (non-persistent)")
		return NewMemoryStorage(channels), nil
	case "mmap":
		if cfg.Path == "" {
			return nil, fmt.Errorf("mmap persistence needs a path")
		}
		slog.Info("Initializing simulator with MMAP persistence", "path", cfg.Path)
		return NewMmapStorage(cfg.Path, channels), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}
