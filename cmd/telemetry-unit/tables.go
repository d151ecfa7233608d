package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"telemetry-unit/internal/dispatch"
	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/messaging"
	"telemetry-unit/internal/power"
	"telemetry-unit/internal/types"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the dispatch tables of the power controller and the consumer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return printTables(cmd.OutOrStdout(), cfg.Power())
	},
}

func printTables(w io.Writer, pc power.Config) error {
	quiet := logger.NewLogger(nil, logger.LogLevelNone)

	controller, err := power.NewController(pc, power.Sensors{}, nil, nil, quiet)
	if err != nil {
		return err
	}
	consumer, err := messaging.NewConsumer(messaging.NewChannel(1), nil, quiet)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	m := controller.Machine()
	for _, state := range m.States() {
		t, _ := m.Table(state)
		writeTable(tw, m.Owner(), state, t)
	}
	writeTable(tw, types.ComponentBLE, types.ConsumerIdle, consumer.Table())
	return tw.Flush()
}

func writeTable(w io.Writer, owner types.ComponentID, state types.StateID, t *dispatch.Table) {
	fmt.Fprintf(w, "%s\t%s\t\t\n", owner, state)
	for _, r := range t.Rules() {
		fmt.Fprintf(w, "\t%s\t-> %s\t| %s\n", r.Event, r.OnSuccess, r.OnFailure)
	}
}
