package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// timeLayouts accepted by the CLI for start/end flags, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"15:04", // today at the given time
}

// parseTime parses a user-provided timestamp in local time.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err != nil {
			continue
		}
		if layout == "15:04" {
			now := time.Now()
			t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.Local)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want e.g. \"2006-01-02 15:04\" or RFC3339)", s)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
