// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/internal/simulator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapStorage_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.bin")

	ms := NewMmapStorage(path, 8)
	m, err := ms.Load()
	require.NoError(t, err)
	require.Len(t, m.Coils, 8)
	require.Len(t, m.DiscreteInputs, 8)
	require.Len(t, m.HoldingRegisters, model.MaxAddress+1)

	require.NoError(t, m.WriteSingleCoil(3, 0xFF00))
	m.WriteSingleRegister(0x4000, 0x20)
	ms.OnWrite(model.TableHoldingRegisters, 0x4000, 1)
	require.NoError(t, ms.Save(m))
	require.NoError(t, ms.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(layout{channels: 8}.size()), fi.Size())

	ms = NewMmapStorage(path, 8)
	m, err = ms.Load()
	require.NoError(t, err)
	defer ms.Close()

	assert.Equal(t, uint16(0x20), m.Register(0x4000))
	assert.True(t, m.Bits(model.TableCoils)[3])
}

func TestMmapStorage_Resizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))

	ms := NewMmapStorage(path, 16)
	m, err := ms.Load()
	require.NoError(t, err)
	defer ms.Close()

	assert.Len(t, m.Coils, 16)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(layout{channels: 16}.size()), fi.Size())
}

func TestMmapStorage_SaveWithoutLoad(t *testing.T) {
	ms := NewMmapStorage(filepath.Join(t.TempDir(), "sim.bin"), 8)
	assert.Error(t, ms.Save(nil))
	assert.NoError(t, ms.Close())
}

func TestLayout(t *testing.T) {
	l := layout{channels: 7}
	assert.Equal(t, 7, l.offsetDiscrete())
	assert.Equal(t, 14, l.offsetHolding())

	data := make([]byte, l.size())
	m := l.mapBytesToModel(data)
	m.Coils[6] = 1
	m.DiscreteInputs[0] = 1
	assert.Equal(t, byte(1), data[6])
	assert.Equal(t, byte(1), data[7])
}

func TestNew(t *testing.T) {
	s, err := New(config.PersistenceConfig{}, 8)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = New(config.PersistenceConfig{Type: "mmap", Path: filepath.Join(t.TempDir(), "x.bin")}, 8)
	require.NoError(t, err)
	assert.IsType(t, &MmapStorage{}, s)

	_, err = New(config.PersistenceConfig{Type: "mmap"}, 8)
	assert.Error(t, err)
	_, err = New(config.PersistenceConfig{Type: "sql"}, 8)
	assert.Error(t, err)
}

// BenchmarkMemoryStorage_OnWrite benchmarks the OnWrite hook for MemoryStorage.
func BenchmarkMemoryStorage_OnWrite(b *testing.B) {
	ms := NewMemoryStorage(16)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms.OnWrite(model.TableCoils, 0, 16)
	}
}

// BenchmarkMmapStorage_OnWrite benchmarks the OnWrite hook for MmapStorage (msync).
func BenchmarkMmapStorage_OnWrite(b *testing.B) {
	ms := NewMmapStorage(filepath.Join(b.TempDir(), "bench_mmap.bin"), 16)
	m, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.HoldingRegisters[0x2000] = uint16(i % 8)
		ms.OnWrite(model.TableHoldingRegisters, 0x2000, 1)
	}
}
