// cmd/mbbridge/read.go
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/modbus-bridge/internal/bridge"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

type readFlags struct {
	device string
}

func newReadCmd() *cobra.Command {
	flags := &readFlags{}

	cmd := &cobra.Command{
		Use:   "read <config.yaml>",
		Short: "Read every range of one device once and print its channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.Context(), cmd.OutOrStdout(), args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.device, "device", "", "Device id (required with more than one device)")
	return cmd
}

func runRead(ctx context.Context, w io.Writer, path string, flags *readFlags) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	d, err := findDevice(cfg, flags.device)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}

	b, closeFn, err := bridge.Build(d, cfg.Strict, logger, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	// LOW ranges are read one per cycle
	cycles := 1
	if n := countLow(b.Protocol()); n > cycles {
		cycles = n
	}
	var failed int
	for i := 0; i < cycles; i++ {
		failed += b.Cycle(ctx).Failed
	}

	printChannels(w, b)
	if failed > 0 {
		return fmt.Errorf("%d request(s) failed", failed)
	}
	return nil
}

func countLow(p *protocol.Protocol) int {
	n := 0
	for _, r := range p.ReadRanges() {
		if r.Priority() == protocol.PriorityLow {
			n++
		}
	}
	return n
}

func printChannels(w io.Writer, b *bridge.Bridge) {
	for _, ch := range b.Channels().List() {
		v, at, ok := ch.Value()
		if !ok {
			fmt.Fprintf(w, "%-24s -\n", ch.ID())
			continue
		}
		e, _ := b.Protocol().ElementByChannel(ch.ID())
		mult := 0
		if e != nil {
			mult = e.Multiplier()
		}
		fmt.Fprintf(w, "%-24s %-12v %s\n", ch.ID(), v.Float64(mult), at.Format(time.RFC3339))
	}
}
