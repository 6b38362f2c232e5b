// cmd/mbbridge/check.go
package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/modbus-bridge/internal/bridge"
	"github.com/tamzrod/modbus-bridge/internal/config"
	"github.com/tamzrod/modbus-bridge/internal/protocol"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config.yaml>",
		Short: "Validate a config and print the assembled address map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			// range defects surface as warnings on stderr
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return printProtocols(cmd.OutOrStdout(), cfg, logger)
		},
	}
}

func printProtocols(w io.Writer, cfg *config.Config, logger zerolog.Logger) error {
	for _, d := range cfg.Devices {
		p, _, err := bridge.BuildProtocol(d, cfg.Strict, logger)
		if err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}

		fmt.Fprintf(w, "%s unitid=%d %s %s\n", d.ID, d.UnitID, d.Transport.Mode, d.Transport.Endpoint)
		for _, r := range protocol.SortedRanges(p.ReadRanges()) {
			mode := "ro"
			if r.Writable() {
				mode = "rw/" + r.WriteMode().String()
			}
			fmt.Fprintf(w, "  %s %s %s\n", r, r.Priority(), mode)
			for _, e := range r.Elements() {
				fmt.Fprintf(w, "    %s len=%d\n", e, e.Length())
			}
		}
	}
	return nil
}
