package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const fileVersion = 1

// document is the on-disk shape of the schedule file. The file is rewritten
// wholesale on every mutation.
type document struct {
	Version   int                  `json:"version"`
	Schedules []*RecordingSchedule `json:"schedules"`
}

// FileStore persists schedules as a versioned JSON file. Earlier releases
// wrote a bare array; Load still accepts that shape.
type FileStore struct {
	Path string
}

// Load reads the schedule file. A missing file yields an empty slice with no
// error; a corrupt file yields an error so the caller can decide to start
// empty.
func (f *FileStore) Load() ([]*RecordingSchedule, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var schedules []*RecordingSchedule
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &schedules); err != nil {
			return nil, fmt.Errorf("parse schedule file: %w", err)
		}
	} else {
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parse schedule file: %w", err)
		}
		schedules = doc.Schedules
	}
	for _, s := range schedules {
		s.normalize()
	}
	return schedules, nil
}

// Save rewrites the schedule file with the given entries.
func (f *FileStore) Save(schedules []*RecordingSchedule) error {
	if schedules == nil {
		schedules = []*RecordingSchedule{}
	}
	doc := document{Version: fileVersion, Schedules: schedules}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedules: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create schedule dir: %w", err)
		}
	}
	if err := os.WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("write schedule file: %w", err)
	}
	return nil
}
