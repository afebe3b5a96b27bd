// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package command

import (
	"context"
	"fmt"
	"log/slog"
)

func runWrite(ctx context.Context, env *Env, args []string) error {
	fs := env.flagSet("write")
	channelList := fs.StringP("channels", "c", "", "Comma separated channel numbers or ranges to write, starting with 1 (i.e. 1,3,5-8)")
	all := fs.BoolP("all", "a", true, "Write all channels if no channels are given")
	setValue := fs.StringP("set-value", "s", "0", "Channel value to set")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var channels []int
	if *channelList != "" {
		var err error
		if channels, err = ParseChannels(*channelList); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
	}
	value := ParseBool(*setValue)

	d, err := env.openDevice(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	switch {
	case channels != nil:
		return d.WriteOutputChannelValuesByIndices(ctx, channels, value)
	case *all:
		return d.WriteAllOutputChannelValues(ctx, value)
	default:
		slog.Warn("Nothing to write: neither --channels nor --all given")
		return nil
	}
}
