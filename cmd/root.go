package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/hal"
	"github.com/ericogr/water-monitor/pkg/hal/periph"
	"github.com/ericogr/water-monitor/pkg/hal/sim"
	"github.com/ericogr/water-monitor/pkg/monitor"
)

// simNoise is the conversion noise of the simulated board, in volts.
const simNoise = 0.0005

func NewRootCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "water-monitor",
		Short:        "Read pH, ORP, conductivity and temperature probes and publish the readings",
		SilenceUsage: true,
	}
	flags := config.BindFlags(cmd.PersistentFlags())
	cmd.SetOut(out)
	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newReadCommand(flags))
	cmd.AddCommand(newVoltagesCommand(flags))
	return cmd
}

func openBoard(cfg config.Config) (*hal.Board, error) {
	if cfg.SensorType == config.SensorSimulation {
		b := sim.New(sim.DefaultEnvironment())
		b.Noise = simNoise
		return b.Hal(), nil
	}
	return periph.Open(cfg)
}

func openMonitor(cfg config.Config) (*monitor.Monitor, error) {
	board, err := openBoard(cfg)
	if err != nil {
		return nil, err
	}
	return startMonitor(board, monitor.OptionsFromConfig(cfg))
}

// startMonitor builds the monitor on an open board and closes the board
// when that fails.
func startMonitor(board *hal.Board, opts monitor.Options) (*monitor.Monitor, error) {
	m, err := monitor.New(board, opts)
	if err != nil {
		return nil, multierr.Append(err, board.Close())
	}
	return m, nil
}
