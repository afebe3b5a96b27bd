// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/transport"
	"github.com/ffutop/modbusctl/transport/rtu"
)

// State is the connection state of a Device.
type State int

const (
	StateConnected State = iota
	StateReconnecting
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Opener opens a transport on a serial line.
type Opener func(ctx context.Context, cfg config.SerialConfig) (transport.Transport, error)

// OpenRTU is the default Opener, a Modbus RTU master on the serial port.
func OpenRTU(ctx context.Context, cfg config.SerialConfig) (transport.Transport, error) {
	c, err := rtu.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Option configures a Device.
type Option func(*Device)

// WithOpener replaces the transport opener.
func WithOpener(open Opener) Option {
	return func(d *Device) {
		d.open = open
	}
}

// WithLogger sets the logger for driver operations.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		d.log = l
	}
}

// Device drives one relay or digital I/O bank on a serial line.
// A Device is not safe for concurrent use.
type Device struct {
	variant Variant
	serial  config.SerialConfig
	address int
	state   State
	conn    transport.Transport
	open    Opener
	log     *slog.Logger
}

// Open validates the configuration and connects to the device at address.
func Open(ctx context.Context, variant Variant, cfg config.SerialConfig, address int, opts ...Option) (*Device, error) {
	if variant.Channels < 1 {
		return nil, invalidf("variant %q has no channels", variant.Name)
	}
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if _, err := BaudRateCode(cfg.BaudRate); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}

	d := &Device{
		variant: variant,
		serial:  cfg,
		address: address,
		open:    OpenRTU,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.log.Debug("Opening device", "type", variant.Name, "device", cfg.Device, "baudRate", cfg.BaudRate, "address", address)
	conn, err := d.open(ctx, cfg)
	if err != nil {
		return nil, &TransportError{Op: "open", Address: address, Err: err}
	}
	d.conn = conn
	d.state = StateConnected
	return d, nil
}

// Variant returns the device model.
func (d *Device) Variant() Variant { return d.variant }

// Channels returns the number of channels.
func (d *Device) Channels() int { return d.variant.Channels }

// Address returns the bus address last acknowledged by the device.
func (d *Device) Address() int { return d.address }

// BaudRate returns the baud rate of the open connection.
func (d *Device) BaudRate() int { return d.serial.BaudRate }

// SerialDevice returns the serial port path.
func (d *Device) SerialDevice() string { return d.serial.Device }

// State returns the connection state.
func (d *Device) State() State { return d.state }

// ReadOutputChannelValues reads all output channels.
func (d *Device) ReadOutputChannelValues(ctx context.Context) ([]bool, error) {
	d.log.Debug("Read output channel values", "device", d.serial.Device, "address", d.address)
	var bits []bool
	err := d.do(ctx, "read output channels", func(ctx context.Context, t transport.Transport) (err error) {
		bits, err = t.ReadCoils(ctx, byte(d.address), 0, uint16(d.Channels()))
		return
	})
	if err != nil {
		return nil, err
	}
	return d.decode("read output channels", bits)
}

// ReadSingleOutputChannelValue reads all output channels and returns the one at 0-based index.
// It panics if index is out of range.
func (d *Device) ReadSingleOutputChannelValue(ctx context.Context, index int) (bool, error) {
	values, err := d.ReadOutputChannelValues(ctx)
	if err != nil {
		return false, err
	}
	return values[index], nil
}

// ReadInputChannelValues reads all input channels.
func (d *Device) ReadInputChannelValues(ctx context.Context) ([]bool, error) {
	if !d.variant.Capabilities.InputChannels {
		return nil, fmt.Errorf("read input channels on %s: %w", d.variant.Name, ErrNotSupported)
	}
	d.log.Debug("Read input channel values", "device", d.serial.Device, "address", d.address)
	var bits []bool
	err := d.do(ctx, "read input channels", func(ctx context.Context, t transport.Transport) (err error) {
		bits, err = t.ReadDiscreteInputs(ctx, byte(d.address), 0, uint16(d.Channels()))
		return
	})
	if err != nil {
		return nil, err
	}
	return d.decode("read input channels", bits)
}

// ReadSingleInputChannelValue reads all input channels and returns the one at 0-based index.
// It panics if index is out of range.
func (d *Device) ReadSingleInputChannelValue(ctx context.Context, index int) (bool, error) {
	values, err := d.ReadInputChannelValues(ctx)
	if err != nil {
		return false, err
	}
	return values[index], nil
}

// WriteOutputChannelValues writes all output channels with a single request.
func (d *Device) WriteOutputChannelValues(ctx context.Context, values []bool) error {
	if len(values) != d.Channels() {
		return invalidf("got %d values for %d channels", len(values), d.Channels())
	}
	d.log.Debug("Write output channel values", "device", d.serial.Device, "address", d.address, "values", values)
	return d.do(ctx, "write output channels", func(ctx context.Context, t transport.Transport) error {
		return t.WriteMultipleCoils(ctx, byte(d.address), 0, values)
	})
}

// WriteAllOutputChannelValues sets every output channel to value.
func (d *Device) WriteAllOutputChannelValues(ctx context.Context, value bool) error {
	values := make([]bool, d.Channels())
	for i := range values {
		values[i] = value
	}
	return d.WriteOutputChannelValues(ctx, values)
}

// WriteSingleOutputChannelValue writes the output channel at 0-based index.
func (d *Device) WriteSingleOutputChannelValue(ctx context.Context, index int, value bool) error {
	if index < 0 || index >= d.Channels() {
		return invalidf("invalid channel index: %d", index)
	}
	d.log.Debug("Write output channel value", "device", d.serial.Device, "address", d.address, "channel", index, "value", value)
	return d.do(ctx, "write output channel", func(ctx context.Context, t transport.Transport) error {
		return t.WriteSingleCoil(ctx, byte(d.address), uint16(index), value)
	})
}

// WriteOutputChannelValuesByIndices sets the 1-based channels to value, one request per channel.
// All indices are checked before the first write.
func (d *Device) WriteOutputChannelValuesByIndices(ctx context.Context, channels []int, value bool) error {
	for _, ch := range channels {
		if ch < 1 || ch > d.Channels() {
			return invalidf("invalid channel index: %d", ch)
		}
	}
	for _, ch := range channels {
		if err := d.WriteSingleOutputChannelValue(ctx, ch-1, value); err != nil {
			return err
		}
	}
	return nil
}

// SetBaudRate changes the device baud rate and reconnects at the new rate.
func (d *Device) SetBaudRate(ctx context.Context, rate int) error {
	code, err := BaudRateCode(rate)
	if err != nil {
		return err
	}
	d.log.Debug("Set baud rate", "device", d.serial.Device, "address", d.address, "baudRate", rate)
	err = d.do(ctx, "set baud rate", func(ctx context.Context, t transport.Transport) error {
		return t.WriteSingleRegister(ctx, byte(d.address), BaudRateRegister, code)
	})
	if err != nil {
		return err
	}
	return d.reconnect(ctx, rate)
}

// reconnect replaces the transport with one at rate. The old one is always closed first.
func (d *Device) reconnect(ctx context.Context, rate int) error {
	d.state = StateReconnecting
	old := d.conn
	d.conn = nil
	if err := old.Close(); err != nil {
		d.log.Warn("Failed to close transport before reconnect", "device", d.serial.Device, "err", err)
	}

	cfg := d.serial
	cfg.BaudRate = rate
	conn, err := d.open(ctx, cfg)
	if err != nil {
		d.state = StateDisconnected
		d.log.Error("Reconnect failed", "device", d.serial.Device, "baudRate", rate, "err", err)
		return &ReconnectError{BaudRate: rate, Err: err}
	}
	d.conn = conn
	d.serial = cfg
	d.state = StateConnected
	d.log.Info("Reconnected", "device", d.serial.Device, "baudRate", rate)
	return nil
}

// SetAddress assigns a new bus address to the device.
func (d *Device) SetAddress(ctx context.Context, address int) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	d.log.Debug("Set address", "device", d.serial.Device, "address", d.address, "newAddress", address)
	err := d.do(ctx, "set address", func(ctx context.Context, t transport.Transport) error {
		return t.WriteSingleRegister(ctx, byte(d.address), AddressRegister, uint16(address))
	})
	if err != nil {
		return err
	}
	d.address = address
	return nil
}

// SoftwareVersion reads the software version register.
func (d *Device) SoftwareVersion(ctx context.Context) (uint16, error) {
	var regs []uint16
	err := d.do(ctx, "read software version", func(ctx context.Context, t transport.Transport) (err error) {
		regs, err = t.ReadHoldingRegisters(ctx, byte(d.address), VersionRegister, 1)
		return
	})
	if err != nil {
		return 0, err
	}
	if len(regs) != 1 {
		return 0, &TransportError{Op: "read software version", Address: d.address, Err: fmt.Errorf("got %d registers, want 1", len(regs))}
	}
	return regs[0], nil
}

// Reset switches all outputs off.
func (d *Device) Reset(ctx context.Context) error {
	d.log.Debug("Reset device", "device", d.serial.Device, "address", d.address)
	return d.WriteAllOutputChannelValues(ctx, false)
}

// Close releases the transport. Closing twice is a no-op.
func (d *Device) Close() error {
	if d.state == StateClosed {
		return nil
	}
	d.state = StateClosed
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// do runs one round trip bounded by the request timeout.
func (d *Device) do(ctx context.Context, op string, fn func(context.Context, transport.Transport) error) error {
	switch d.state {
	case StateClosed:
		return ErrClosed
	case StateDisconnected:
		return ErrDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	if err := fn(ctx, d.conn); err != nil {
		d.log.Debug("Request failed", "op", op, "device", d.serial.Device, "address", d.address, "err", err)
		return &TransportError{Op: op, Address: d.address, Err: err}
	}
	return nil
}

func (d *Device) decode(op string, bits []bool) ([]bool, error) {
	if len(bits) != d.Channels() {
		return nil, &TransportError{Op: op, Address: d.address, Err: fmt.Errorf("got %d bits, want %d", len(bits), d.Channels())}
	}
	return ChannelBitsToValues(bits, d.Channels()), nil
}

func (d *Device) timeout() time.Duration {
	return d.serial.Timeout
}
