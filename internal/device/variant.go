// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import "strings"

// Capabilities flags the optional functions of a variant.
type Capabilities struct {
	InputChannels bool
}

// Variant describes a device model.
type Variant struct {
	Name         string // short name used on the command line
	Description  string
	Channels     int
	Capabilities Capabilities
}

var (
	// Relay is the 16 channel relay bank. It has no input channels.
	Relay = Variant{
		Name:        "rel16",
		Description: "16 channel relay",
		Channels:    16,
	}
	// DigitalIO is the 8 channel digital I/O bank.
	DigitalIO = Variant{
		Name:         "dio",
		Description:  "8 channel digital I/O",
		Channels:     8,
		Capabilities: Capabilities{InputChannels: true},
	}
)

// Variants returns all known variants.
func Variants() []Variant {
	return []Variant{Relay, DigitalIO}
}

// LookupVariant resolves a short name, case-insensitively.
func LookupVariant(name string) (Variant, error) {
	for _, v := range Variants() {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return Variant{}, invalidf("unknown device type %q", name)
}

func (v Variant) String() string {
	return v.Name
}
