package main

import (
	"testing"
	"time"
)

func TestParseTimeLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-09-01T21:00:00+09:00", time.Date(2026, 9, 1, 21, 0, 0, 0, time.FixedZone("", 9*3600))},
		{"2026-09-01 21:00:00", time.Date(2026, 9, 1, 21, 0, 0, 0, time.Local)},
		{"2026-09-01 21:00", time.Date(2026, 9, 1, 21, 0, 0, 0, time.Local)},
	}
	for _, tc := range cases {
		got, err := parseTime(tc.in)
		if err != nil {
			t.Fatalf("parseTime(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseTimeClockOnly(t *testing.T) {
	got, err := parseTime("21:30")
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	now := time.Now()
	want := time.Date(now.Year(), now.Month(), now.Day(), 21, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("parseTime(21:30) = %v, want %v", got, want)
	}
}

func TestParseTimeInvalid(t *testing.T) {
	if _, err := parseTime("not-a-time"); err == nil {
		t.Fatal("expected error for invalid input")
	}
}
