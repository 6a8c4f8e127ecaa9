package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type RecordFlags struct {
	ConfigPath  string
	Station     string
	StationName string
	Program     string
	Duration    time.Duration
	Until       string // absolute end time, overrides Duration
}

type ScheduleAddFlags struct {
	ConfigPath  string
	Station     string
	StationName string
	Program     string
	Start       string
	End         string
	Duration    time.Duration // used when End is empty
	Repeat      string
	RepeatDays  []int
	Format      string
}

type ScheduleFlags struct {
	ConfigPath string
	ID         string
}

type ServeFlags struct {
	ConfigPath string
}

type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	Station    string
	All        bool
	APIUrl     string
	APITimeout time.Duration
}
