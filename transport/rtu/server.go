// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/modbusctl/internal/config"
	"github.com/ffutop/modbusctl/modbus"
	rtupacket "github.com/ffutop/modbusctl/modbus/rtu"
	"github.com/ffutop/modbusctl/transport"
	"github.com/grid-x/serial"
)

// Server implements a Modbus RTU Server (Upstream).
// It acts as a Slave on the serial bus, waiting for requests from an external Master.
// Requests are answered one at a time, in the order they arrive.
type Server struct {
	Config config.SerialConfig

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the serial port and serves requests until ctx is done.
// The context is checked whenever a read returns, so the serial timeout bounds shutdown latency.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	spConfig := serialConfig(s.Config)
	port, err := serial.Open(&spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	defer s.Close()
	slog.Info("RTU Server listening", "device", s.Config.Device, "baudRate", s.Config.BaudRate)

	return s.scanLoop(ctx, port, handler)
}

func (s *Server) scanLoop(ctx context.Context, port io.ReadWriter, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read 1 byte to unblock
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		// Read header (attempt 7 bytes total to cover ByteCount for variable length functions)
		current := 1
		need := 7

		for current < need {
			n, err := port.Read(buf[current:need])
			if err != nil {
				break
			}
			current += n
		}

		if current < 2 {
			continue
		}

		expectedLen, err := rtupacket.CalculateRequestLength(buf[1], buf[:current])
		if err != nil || expectedLen > len(buf) {
			continue
		}

		// Read remaining
		for current < expectedLen {
			n, err := port.Read(buf[current:expectedLen])
			if err != nil {
				break
			}
			current += n
		}

		if current != expectedLen {
			continue
		}

		req, err := rtupacket.Decode(buf[:expectedLen])
		if err != nil {
			// CRC Mismatch
			continue
		}
		frameLog.Debug("recv from modbus master", "device", s.Config.Device, "request", hex.EncodeToString(buf[:expectedLen]))

		pdu := modbus.ProtocolDataUnit{
			FunctionCode: req.Pdu.FunctionCode,
			Data:         append([]byte(nil), req.Pdu.Data...),
		}
		respPDU, err := handler(ctx, req.SlaveID, pdu)
		if err != nil {
			slog.Debug("request not answered", "slaveID", req.SlaveID, "err", err)
			continue
		}
		if req.SlaveID == rtupacket.BroadcastID {
			continue
		}

		resp := &rtupacket.ApplicationDataUnit{SlaveID: req.SlaveID, Pdu: respPDU}
		raw, err := resp.Encode()
		if err != nil {
			slog.Error("Failed to encode RTU response", "err", err)
			continue
		}
		frameLog.Debug("send to modbus master", "device", s.Config.Device, "response", hex.EncodeToString(raw))
		if _, err := port.Write(raw); err != nil {
			slog.Error("Failed to write RTU response", "device", s.Config.Device, "err", err)
		}
	}
}

// Close closes the serial port if the server is running.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
