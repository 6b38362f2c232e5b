// cmd/mbbridge/write.go
package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tamzrod/modbus-bridge/internal/bridge"
	"github.com/tamzrod/modbus-bridge/internal/element"
)

type writeFlags struct {
	device  string
	channel string
	value   string
}

func newWriteCmd() *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "write <config.yaml>",
		Short: "Set one channel value and run one cycle to write it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.channel == "" {
				return fmt.Errorf("required flag --channel not set")
			}
			if flags.value == "" {
				return fmt.Errorf("required flag --value not set")
			}
			return runWrite(cmd.Context(), cmd.OutOrStdout(), args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.device, "device", "", "Device id (required with more than one device)")
	cmd.Flags().StringVar(&flags.channel, "channel", "", "Channel id (required)")
	cmd.Flags().StringVar(&flags.value, "value", "", "Value in engineering units, or on/off for coils (required)")
	return cmd
}

func runWrite(ctx context.Context, w io.Writer, path string, flags *writeFlags) error {
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

	ch, ok := b.Channels().Get(flags.channel)
	if !ok {
		return fmt.Errorf("channel %q not found on device %q", flags.channel, d.ID)
	}
	r, ok := b.Protocol().RangeByChannel(flags.channel)
	if !ok || !r.Writable() {
		return fmt.Errorf("channel %q is not writable", flags.channel)
	}
	e, _ := b.Protocol().ElementByChannel(flags.channel)

	v, err := element.ParseValue(ch.Type(), e.Multiplier(), flags.value)
	if err != nil {
		return err
	}
	if err := ch.SetNextWriteValue(v); err != nil {
		return err
	}

	res := b.Cycle(ctx)
	if _, pending := ch.NextWriteValue(); pending {
		return fmt.Errorf("write not confirmed: %w", res.Err)
	}

	fmt.Fprintf(w, "%s = %s written\n", flags.channel, flags.value)
	return nil
}
