package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

const SamplesOptionName = "samples"

func newReadCommand(flags *config.Flags) *cobra.Command {
	var samples int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Take a composite reading and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if samples < 1 {
				return fmt.Errorf("%s must be >= 1", SamplesOptionName)
			}
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			mon, err := openMonitor(cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, mon.Close()) }()

			var r sensor.Readings
			for i := 0; i < samples; i++ {
				r = mon.ReadAll()
			}
			return printJSON(cmd, r)
		},
	}
	cmd.Flags().IntVar(&samples, SamplesOptionName, 1, "Readings to take before printing, letting the filters settle")
	return cmd
}

func newVoltagesCommand(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "voltages",
		Short: "Print the raw probe voltages used for calibration",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := flags.Load()
			if err != nil {
				return err
			}
			mon, err := openMonitor(cfg)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, mon.Close()) }()
			return printJSON(cmd, mon.ReadVoltages())
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
