// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package command

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/internal/device"
	"github.com/ffutop/modbusctl/internal/simulator"
	"github.com/ffutop/modbusctl/modbus"
	"github.com/ffutop/modbusctl/transport"
	"github.com/ffutop/modbusctl/transport/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(deviceType string) *config.Config {
	return &config.Config{
		Serial: config.SerialConfig{Device: "sim", BaudRate: 9600, Timeout: time.Second},
		Device: config.DeviceConfig{Type: deviceType, Address: 1},
		Simulator: config.SimulatorConfig{
			Version:     simulator.DefaultVersion,
			Persistence: config.PersistenceConfig{Type: "memory"},
		},
	}
}

func simulatedEnv(t *testing.T, variant device.Variant) (*Env, *simulator.Simulator, *bytes.Buffer) {
	t.Helper()
	sim, err := simulator.New(variant, 1, 9600)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })

	open := local.Opener(sim)
	out := &bytes.Buffer{}
	env := &Env{
		Config: testConfig(variant.Name),
		Out:    out,
		Err:    &bytes.Buffer{},
		Opener: func(ctx context.Context, cfg config.SerialConfig) (transport.Transport, error) {
			return open(ctx, cfg)
		},
	}
	return env, sim, out
}

func run(t *testing.T, env *Env, name string, args ...string) error {
	t.Helper()
	cmd, ok := Lookup(name)
	require.True(t, ok, "command %s", name)
	return cmd.Run(context.Background(), env, args)
}

func TestRead(t *testing.T) {
	env, sim, out := simulatedEnv(t, device.DigitalIO)
	sim.Process(modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteMultipleCoils, Data: []byte{0, 0, 0, 8, 1, 0x05}})

	require.NoError(t, run(t, env, "read"))
	assert.Equal(t, "Channel values: 01 00 01 00 00 00 00 00\n", out.String())
}

func TestRead_Inputs(t *testing.T) {
	env, sim, out := simulatedEnv(t, device.DigitalIO)
	require.NoError(t, sim.SetInput(7, true))

	require.NoError(t, run(t, env, "read", "-i"))
	assert.Equal(t, "Channel values: 00 00 00 00 00 00 00 01\n", out.String())
}

func TestRead_RelayInputs(t *testing.T) {
	env, _, out := simulatedEnv(t, device.Relay)

	err := run(t, env, "read", "--input-channels")
	assert.ErrorIs(t, err, device.ErrNotSupported)
	assert.Equal(t, 1, ExitCode(err))
	assert.Empty(t, out.String())
}

func TestWrite_Channels(t *testing.T) {
	env, sim, _ := simulatedEnv(t, device.DigitalIO)

	require.NoError(t, run(t, env, "write", "-c", "1,3-4", "-s", "on"))
	assert.Equal(t, []bool{true, false, true, true, false, false, false, false}, sim.Outputs())

	require.NoError(t, run(t, env, "write", "--channels", "3", "--set-value", "OFF"))
	assert.Equal(t, []bool{true, false, false, true, false, false, false, false}, sim.Outputs())
}

func TestWrite_All(t *testing.T) {
	env, sim, _ := simulatedEnv(t, device.Relay)

	require.NoError(t, run(t, env, "write", "-s", "1"))
	for i, v := range sim.Outputs() {
		assert.True(t, v, "channel %d", i+1)
	}

	require.NoError(t, run(t, env, "write"))
	assert.Equal(t, make([]bool, 16), sim.Outputs())

	require.NoError(t, run(t, env, "write", "-s", "yes", "--all=false"))
	assert.Equal(t, make([]bool, 16), sim.Outputs())
}

func TestWrite_InvalidChannels(t *testing.T) {
	env, sim, _ := simulatedEnv(t, device.DigitalIO)

	err := run(t, env, "write", "-c", "3,9", "-s", "1")
	assert.ErrorIs(t, err, device.ErrInvalidConfiguration)
	assert.Equal(t, 2, ExitCode(err))
	assert.Equal(t, make([]bool, 8), sim.Outputs(), "no channel may be written")

	err = run(t, env, "write", "-c", "one")
	assert.ErrorIs(t, err, ErrUsage)
	assert.Equal(t, 2, ExitCode(err))
}

func TestConfig_Show(t *testing.T) {
	env, _, out := simulatedEnv(t, device.Relay)

	require.NoError(t, run(t, env, "config"))
	assert.Equal(t, "Device software version: 100\nDevice address: 01\n", out.String())
}

func TestConfig_Set(t *testing.T) {
	env, sim, out := simulatedEnv(t, device.Relay)

	require.NoError(t, run(t, env, "config", "-B", "19200", "-A", "0x20"))
	assert.Equal(t, 19200, sim.BaudRate())
	assert.Equal(t, 0x20, sim.Address())
	assert.Empty(t, out.String())

	env.Config.Serial.BaudRate = 19200
	env.Config.Device.Address = 0x20
	require.NoError(t, run(t, env, "config"))
	assert.Equal(t, "Device software version: 100\nDevice address: 20\n", out.String())
}

func TestConfig_Invalid(t *testing.T) {
	env, sim, _ := simulatedEnv(t, device.Relay)

	tests := []struct {
		name string
		args []string
	}{
		{"UnsupportedBaud", []string{"-B", "1234"}},
		{"AddressTooHigh", []string{"-A", "0x100"}},
		{"AddressNotANumber", []string{"--set-address", "twenty"}},
		{"UnknownFlag", []string{"--reset"}},
		{"ExtraArgument", []string{"now"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t, env, "config", tt.args...)
			assert.Equal(t, 2, ExitCode(err), "err = %v", err)
		})
	}
	assert.Equal(t, 9600, sim.BaudRate())
	assert.Equal(t, 1, sim.Address())
}

func TestOpenDevice_Configuration(t *testing.T) {
	env, _, _ := simulatedEnv(t, device.Relay)

	env.Config.Serial.Device = ""
	assert.ErrorIs(t, run(t, env, "read"), device.ErrInvalidConfiguration)

	env.Config.Serial.Device = "sim"
	env.Config.Device.Type = "rel32"
	assert.ErrorIs(t, run(t, env, "read"), device.ErrInvalidConfiguration)
}

func TestHelp(t *testing.T) {
	env, _, _ := simulatedEnv(t, device.Relay)

	err := run(t, env, "write", "-h")
	assert.Equal(t, 0, ExitCode(err))
	assert.Contains(t, env.Err.(*bytes.Buffer).String(), "--set-value")
}

// upstreamFunc adapts a function to transport.Upstream.
type upstreamFunc func(ctx context.Context, handler transport.RequestHandler) error

func (f upstreamFunc) Start(ctx context.Context, handler transport.RequestHandler) error {
	return f(ctx, handler)
}

func (f upstreamFunc) Close() error { return nil }

func TestSimulate_ReopensOnBaudRateChange(t *testing.T) {
	cfg := testConfig("dio")
	cfg.Simulator.Persistence = config.PersistenceConfig{Type: "mmap", Path: filepath.Join(t.TempDir(), "dio.bin")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rates []int
	env := &Env{
		Config: cfg,
		NewServer: func(serial config.SerialConfig) transport.Upstream {
			rates = append(rates, serial.BaudRate)
			round := len(rates)
			return upstreamFunc(func(sctx context.Context, handler transport.RequestHandler) error {
				if round == 1 {
					req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeWriteSingleRegister, Data: []byte{0x20, 0x00, 0x00, 0x02}}
					resp, err := handler(sctx, 1, req)
					require.NoError(t, err)
					assert.Equal(t, req, resp)
					assert.Error(t, sctx.Err(), "baud rate change must stop the server")

					inputs, err := handler(sctx, 1, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadDiscreteInputs, Data: []byte{0, 0, 0, 8}})
					require.NoError(t, err)
					assert.Equal(t, []byte{1, 0x06}, inputs.Data)
					return nil
				}
				cancel()
				<-sctx.Done()
				return nil
			})
		},
	}

	cmd, _ := Lookup("simulate")
	require.NoError(t, cmd.Run(ctx, env, []string{"--inputs", "2-3"}))
	assert.Equal(t, []int{9600, 19200}, rates)

	// The simulated device remembers its baud rate.
	rates = nil
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	env.NewServer = func(serial config.SerialConfig) transport.Upstream {
		rates = append(rates, serial.BaudRate)
		return upstreamFunc(func(sctx context.Context, handler transport.RequestHandler) error {
			cancel()
			return nil
		})
	}
	require.NoError(t, cmd.Run(ctx, env, nil))
	assert.Equal(t, []int{19200}, rates)
}

func TestSimulate_ServerError(t *testing.T) {
	boom := errors.New("no such port")
	env := &Env{
		Config: testConfig("rel16"),
		NewServer: func(serial config.SerialConfig) transport.Upstream {
			return upstreamFunc(func(ctx context.Context, handler transport.RequestHandler) error {
				return boom
			})
		},
	}

	err := run(t, env, "simulate")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ExitCode(err))
}

func TestSimulate_InvalidConfiguration(t *testing.T) {
	cfg := testConfig("rel16")
	cfg.Simulator.Persistence.Type = "sql"
	err := run(t, &Env{Config: cfg}, "simulate")
	assert.Equal(t, 2, ExitCode(err))

	cfg = testConfig("rel16")
	err = run(t, &Env{Config: cfg}, "simulate", "--inputs", "1")
	assert.Equal(t, 2, ExitCode(err), "relay has no inputs")
}

func TestParseChannels(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{"1", []int{1}, false},
		{"1,3,5-8", []int{1, 3, 5, 6, 7, 8}, false},
		{" 2 , 4 - 5 ", []int{2, 4, 5}, false},
		{"0,99", []int{0, 99}, false},
		{"8-5", nil, true},
		{"1-2-3", nil, true},
		{"a", nil, true},
		{",", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseChannels(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"", "false", "FALSE", "0", "no", "Off"} {
		assert.False(t, ParseBool(s), "%q", s)
	}
	for _, s := range []string{"1", "true", "on", "yes", "anything"} {
		assert.True(t, ParseBool(s), "%q", s)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(ErrUsage))
	assert.Equal(t, 2, ExitCode(device.ErrInvalidConfiguration))
	assert.Equal(t, 1, ExitCode(&device.TransportError{Op: "read", Address: 1, Err: errors.New("timeout")}))
	assert.Equal(t, 1, ExitCode(&device.ReconnectError{BaudRate: 9600, Err: errors.New("busy")}))
}
