// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultTimeout bounds a single request/response round trip.
const DefaultTimeout = 2 * time.Second

// Config defines the global configuration structure
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial"`
	Device    DeviceConfig    `mapstructure:"device"`
	Log       LogConfig       `mapstructure:"log"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level     string `mapstructure:"level"`     // debug, info, warn, error
	File      string `mapstructure:"file"`      // Log file path, "-" or empty for stdout
	Transport bool   `mapstructure:"transport"` // Dump RTU frames at debug level
}

// DeviceConfig selects the device on the bus
type DeviceConfig struct {
	Type    string `mapstructure:"type"`    // Variant short name, e.g. "rel16", "dio"
	Address int    `mapstructure:"address"` // Bus address 1-255
}

// SimulatorConfig defines the simulated device served by "simulate"
type SimulatorConfig struct {
	Version     int               `mapstructure:"version"` // Software version register value
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "mmap"
	Path string `mapstructure:"path"` // File path for "mmap" type
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// flagKeys maps global command line flags onto configuration keys.
var flagKeys = map[string]string{
	"serial-device": "serial.device",
	"baudrate":      "serial.baud_rate",
	"timeout":       "serial.timeout",
	"device-type":   "device.type",
	"device-number": "device.address",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"log-transport": "log.transport",
}

// Flags registers the global command line flags.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "Configuration file path")
	fs.StringP("serial-device", "d", "", "Serial communication device for Modbus RTU (i.e. /dev/ttyUSB0)")
	fs.IntP("baudrate", "b", 115200, "Baudrate for communication")
	fs.Duration("timeout", DefaultTimeout, "Response wait time")
	fs.StringP("device-type", "t", "rel16", "Device type")
	fs.IntP("device-number", "n", 1, "Bus address of the device")
	fs.StringP("log-level", "l", "info", "Log verbosity level (debug, info, warn, error)")
	fs.String("log-file", "", "Log file name ('-' for logging to STDOUT only)")
	fs.BoolP("log-transport", "L", false, "Log Modbus RTU frames at debug level")
}

// LoadConfig loads configuration from defaults, the optional config file,
// MODBUSCTL_* environment variables and changed flags of fs, in rising precedence.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", DefaultTimeout)
	v.SetDefault("serial.rs485", false)
	v.SetDefault("device.type", "rel16")
	v.SetDefault("device.address", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.transport", false)
	v.SetDefault("simulator.version", 100)
	v.SetDefault("simulator.persistence.type", "memory")
	v.SetDefault("simulator.persistence.path", "")

	v.SetEnvPrefix("modbusctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusctl/")
		v.AddConfigPath("$HOME/.modbusctl")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Configuration can be given entirely by flags
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	config.Log.Level = strings.ToLower(config.Log.Level)
	config.Device.Type = strings.ToLower(config.Device.Type)

	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
}
