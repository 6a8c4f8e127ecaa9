package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airband/radiorec"
	"github.com/airband/radiorec/internal/schedule"
)

type command struct{}

func loadConfig(path string) (*radiorec.Config, error) {
	cfg, err := radiorec.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// scheduleManager opens the schedule collection without the rest of the
// orchestrator, for the file-level schedule subcommands.
func scheduleManager(cfg *radiorec.Config) *schedule.Manager {
	return schedule.NewManager(schedule.Config{
		Store:    &schedule.FileStore{Path: cfg.ScheduleFile},
		Notifier: cfg.Notifier(),
	})
}

// Record runs an immediate foreground recording until the end time or an
// interrupt signal.
func (c command) Record(f RecordFlags) error {
	if f.Station == "" {
		return fmt.Errorf("station is required")
	}
	end := time.Now().Add(f.Duration)
	if f.Until != "" {
		t, err := parseTime(f.Until)
		if err != nil {
			return err
		}
		end = t
	}
	if !end.After(time.Now()) {
		return fmt.Errorf("end time %s is not in the future", end.Format(time.RFC3339))
	}

	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	orch, err := radiorec.New(cfg, radiorec.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := f.StationName
	if name == "" {
		name = f.Station
	}
	if err := orch.RecordNow(ctx, f.Station, name, f.Program, end); err != nil {
		return err
	}
	fmt.Printf("recording %s until %s\n", f.Station, end.Format("15:04:05"))

	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			orch.Recorders().StopAll()
			return nil
		case <-t.C:
			if orch.Recorders().ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// ScheduleAdd registers a new schedule in the schedule file.
func (c command) ScheduleAdd(f ScheduleAddFlags) error {
	if f.Station == "" {
		return fmt.Errorf("station is required")
	}
	start, err := parseTime(f.Start)
	if err != nil {
		return err
	}
	var end time.Time
	if f.End != "" {
		if end, err = parseTime(f.End); err != nil {
			return err
		}
	} else {
		end = start.Add(f.Duration)
	}
	if !end.After(start) {
		return fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	repeat := schedule.RepeatType(f.Repeat)
	switch repeat {
	case "", schedule.RepeatNone:
		repeat = schedule.RepeatNone
	case schedule.RepeatDaily, schedule.RepeatWeekly:
	default:
		return fmt.Errorf("repeat must be none, daily or weekly")
	}

	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	format := strings.ToLower(f.Format)
	if format == "" {
		format = cfg.Format
	}
	outputPath, err := cfg.OutputLayout().Path(f.Station, f.Program, start)
	if err != nil {
		return err
	}
	name := f.StationName
	if name == "" {
		name = f.Station
	}
	s := &schedule.RecordingSchedule{
		ID:           schedule.NewID(f.Station, start),
		StationID:    f.Station,
		StationName:  name,
		ProgramTitle: f.Program,
		StartTime:    start,
		EndTime:      end,
		OutputPath:   outputPath,
		Filetype:     format,
		RepeatType:   repeat,
		RepeatDays:   f.RepeatDays,
		Enabled:      true,
		Status:       schedule.StatusScheduled,
	}
	if err := scheduleManager(cfg).Add(s); err != nil {
		return err
	}
	printJSON(s)
	return nil
}

// ScheduleList prints every schedule in the file.
func (c command) ScheduleList(f ScheduleFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	type row struct {
		*schedule.RecordingSchedule
		StatusDisplay string `json:"status_display"`
	}
	schedules := scheduleManager(cfg).Schedules()
	rows := make([]row, 0, len(schedules))
	for _, s := range schedules {
		rows = append(rows, row{RecordingSchedule: s, StatusDisplay: s.StatusDisplayName()})
	}
	printJSON(rows)
	return nil
}

// ScheduleCancel marks one schedule cancelled.
func (c command) ScheduleCancel(f ScheduleFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if err := scheduleManager(cfg).Cancel(f.ID); err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", f.ID)
	return nil
}

// ScheduleRemove deletes one schedule from the file.
func (c command) ScheduleRemove(f ScheduleFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if err := scheduleManager(cfg).Remove(f.ID); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", f.ID)
	return nil
}

// ScheduleClear removes every schedule.
func (c command) ScheduleClear(f ScheduleFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	n := scheduleManager(cfg).ClearAll()
	fmt.Printf("removed %d schedules\n", n)
	return nil
}

// Serve runs the orchestrator daemon until it receives a termination
// signal. A panic takes the crash path so the schedule file stays truthful.
func (c command) Serve(f ServeFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	orch, err := radiorec.New(cfg, radiorec.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			orch.CrashCleanup()
			panic(r)
		}
	}()
	orch.Run(context.Background())
	return nil
}

// Status prints active recordings and schedules from a running daemon.
func (c command) Status(f StatusFlags) error {
	client := NewAPIClient(f.APIUrl, f.APITimeout)
	if !client.IsReachable() {
		return fmt.Errorf("daemon not reachable at %s - start it with 'radiorec serve'", client.baseURL)
	}
	recordings, err := client.GetRecordings()
	if err != nil {
		return err
	}
	schedules, err := client.GetSchedules()
	if err != nil {
		return err
	}
	printJSON(map[string]any{"recordings": recordings, "schedules": schedules})
	return nil
}

// Stop stops recordings on a running daemon.
func (c command) Stop(f StopFlags) error {
	client := NewAPIClient(f.APIUrl, f.APITimeout)
	if !client.IsReachable() {
		return fmt.Errorf("daemon not reachable at %s - start it with 'radiorec serve'", client.baseURL)
	}
	if f.All {
		if err := client.StopAll(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "stopped all recordings")
		return nil
	}
	if f.Station == "" {
		return fmt.Errorf("either --station or --all is required")
	}
	n, err := client.StopStation(f.Station)
	if err != nil {
		return err
	}
	fmt.Printf("stopped %d recordings\n", n)
	return nil
}
