package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command and its subcommands.
func buildRoot() *cobra.Command {
	recordFlags := &RecordFlags{}
	addFlags := &ScheduleAddFlags{}
	scheduleFlags := &ScheduleFlags{}
	serveFlags := &ServeFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}

	radiorecCommand := command{}

	root := createRootCommand()
	root.AddCommand(
		createRecordCommand(radiorecCommand, recordFlags),
		createScheduleCommand(radiorecCommand, addFlags, scheduleFlags),
		createServeCommand(radiorecCommand, serveFlags),
		createStatusCommand(radiorecCommand, statusFlags),
		createStopCommand(radiorecCommand, stopFlags),
	)
	return root
}

// createRootCommand creates the root command
func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "radiorec",
		Short: "Radio stream recording tool",
		Long: `Radiorec records internet radio streams on demand or on a schedule,
supervising the encoder process and retrying transient stream failures.

Examples:
  radiorec record --station=fm802 --duration=1h
  radiorec schedule add --station=fm802 --start="2026-09-01 21:00" --duration=2h
  radiorec serve                     # Start daemon with schedule monitoring
  radiorec status                    # Show active recordings and schedules`,
	}
}

// createRecordCommand creates the record subcommand
func createRecordCommand(radiorecCommand command, f *RecordFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a station immediately",
		Long: `Record a station in the foreground until the duration elapses,
the end time passes or the command is interrupted.

Examples:
  radiorec record --station=fm802 --duration=30m
  radiorec record --station=fm802 --name="FM802" --program="Evening Show" --until="22:00"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.Record(*f)
		},
	}

	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to TOML config file (optional)")
	cmd.Flags().StringVar(&f.Station, "station", "", "station id (required)")
	cmd.Flags().StringVar(&f.StationName, "name", "", "station display name")
	cmd.Flags().StringVar(&f.Program, "program", "", "program title for the output filename")
	cmd.Flags().DurationVar(&f.Duration, "duration", time.Hour, "how long to record")
	cmd.Flags().StringVar(&f.Until, "until", "", "absolute end time, overrides --duration")

	if err := cmd.MarkFlagRequired("station"); err != nil {
		panic(err)
	}
	return cmd
}

// createScheduleCommand creates the schedule subcommand tree
func createScheduleCommand(radiorecCommand command, addFlags *ScheduleAddFlags, scheduleFlags *ScheduleFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recording schedules",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a recording schedule",
		Long: `Add a schedule to the schedule file. A running daemon picks up the
change the next time the file is saved through it; restart the daemon
or use the HTTP API when one is running.

Examples:
  radiorec schedule add --station=fm802 --start="2026-09-01 21:00" --duration=2h
  radiorec schedule add --station=fm802 --start="21:00" --end="23:00" --repeat=weekly --days=1 --days=3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.ScheduleAdd(*addFlags)
		},
	}
	add.Flags().StringVar(&addFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	add.Flags().StringVar(&addFlags.Station, "station", "", "station id (required)")
	add.Flags().StringVar(&addFlags.StationName, "name", "", "station display name")
	add.Flags().StringVar(&addFlags.Program, "program", "", "program title")
	add.Flags().StringVar(&addFlags.Start, "start", "", "start time (required)")
	add.Flags().StringVar(&addFlags.End, "end", "", "end time")
	add.Flags().DurationVar(&addFlags.Duration, "duration", time.Hour, "length, used when --end is empty")
	add.Flags().StringVar(&addFlags.Repeat, "repeat", "none", "repeat mode: none, daily or weekly")
	add.Flags().IntSliceVar(&addFlags.RepeatDays, "days", nil, "weekdays for weekly repeats (0=Sunday)")
	add.Flags().StringVar(&addFlags.Format, "format", "", "output format, defaults to the config value")
	if err := add.MarkFlagRequired("station"); err != nil {
		panic(err)
	}
	if err := add.MarkFlagRequired("start"); err != nil {
		panic(err)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.ScheduleList(*scheduleFlags)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a schedule without deleting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.ScheduleCancel(*scheduleFlags)
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.ScheduleRemove(*scheduleFlags)
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Remove all schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.ScheduleClear(*scheduleFlags)
		},
	}

	for _, sub := range []*cobra.Command{list, cancel, remove, clear} {
		sub.Flags().StringVar(&scheduleFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	}
	for _, sub := range []*cobra.Command{cancel, remove} {
		sub.Flags().StringVar(&scheduleFlags.ID, "id", "", "schedule id (required)")
		if err := sub.MarkFlagRequired("id"); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(add, list, cancel, remove, clear)
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(radiorecCommand command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording daemon",
		Long: `Run the daemon: schedule monitoring, the HTTP API and metrics.
Runs until SIGINT or SIGTERM.

Examples:
  radiorec serve
  radiorec serve --config=/etc/radiorec/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.Serve(*f)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to TOML config file (optional)")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(radiorecCommand command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active recordings and schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.Status(*f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8087)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(radiorecCommand command, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop active recordings on the daemon",
		Long: `Stop one station's recordings or all of them on a running daemon.

Examples:
  radiorec stop --station=fm802
  radiorec stop --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return radiorecCommand.Stop(*f)
		},
	}
	cmd.Flags().StringVar(&f.Station, "station", "", "station id")
	cmd.Flags().BoolVar(&f.All, "all", false, "stop every active recording")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8087)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}
