// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package command

import (
	"context"
	"fmt"
)

func runRead(ctx context.Context, env *Env, args []string) error {
	fs := env.flagSet("read")
	inputs := fs.BoolP("input-channels", "i", false, "Read the input channels instead of the output channels")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	d, err := env.openDevice(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	var values []bool
	if *inputs {
		values, err = d.ReadInputChannelValues(ctx)
	} else {
		values, err = d.ReadOutputChannelValues(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out(), "Channel values: %s\n", formatValues(values))
	return nil
}
