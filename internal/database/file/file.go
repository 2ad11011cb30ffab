// Package file serves the roster and attendance targets from a YAML file for
// standalone use without a database. Check-ins are appended to a log next to it.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

type rosterFile struct {
	Members []memberEntry `yaml:"members"`
	Events  []eventEntry  `yaml:"events"`
}

type memberEntry struct {
	ID         string    `yaml:"id"`
	Name       string    `yaml:"name"`
	Group      string    `yaml:"group"`
	Photo      string    `yaml:"photo"`
	Inactive   bool      `yaml:"inactive"`
	Descriptor []float64 `yaml:"descriptor"`
}

type eventEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Date   string `yaml:"date"` // YYYY-MM-DD
	Closed bool   `yaml:"closed"`
}

// Roster is a file-backed RosterReader, TargetReader and AttendanceWriter.
type Roster struct {
	path    string
	logPath string

	mu sync.Mutex // serializes appends to the attendance log
}

// Open validates the roster file and returns a Roster reading it on every call,
// so edits are picked up without a restart.
func Open(path string) (*Roster, error) {
	r := &Roster{
		path:    path,
		logPath: strings.TrimSuffix(path, filepath.Ext(path)) + ".attendance.log",
	}
	if _, err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Initialize opens the roster file and registers it as the file backend.
func Initialize(path string) (*Roster, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	database.RegisterFileBackend(
		func() database.RosterReader { return r },
		func() database.TargetReader { return r },
		func() database.AttendanceWriter { return r },
	)
	return r, nil
}

func (r *Roster) load() (*rosterFile, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing roster file %s: %w", r.path, err)
	}
	seen := make(map[string]bool, len(rf.Members))
	for i, m := range rf.Members {
		if m.ID == "" {
			return nil, fmt.Errorf("roster member %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate roster member id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return &rf, nil
}

// resolvePhoto makes relative photo paths relative to the roster file.
func (r *Roster) resolvePhoto(photo string) string {
	if photo == "" || strings.Contains(photo, "://") || filepath.IsAbs(photo) {
		return photo
	}
	return filepath.Join(filepath.Dir(r.path), photo)
}

func (r *Roster) ActiveMembers(_ context.Context) ([]database.Member, error) {
	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	var members []database.Member
	for _, e := range rf.Members {
		if e.Inactive || e.Photo == "" {
			continue
		}
		m := database.Member{
			ID:       e.ID,
			Name:     e.Name,
			GroupTag: e.Group,
			PhotoRef: r.resolvePhoto(e.Photo),
		}
		if len(e.Descriptor) > 0 {
			d, err := facematch.DescriptorFromFloat64(e.Descriptor)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", e.ID, err)
			}
			m.Descriptor = &d
		}
		members = append(members, m)
	}
	return members, nil
}

// ActiveTargets returns events that are not closed, in file order.
func (r *Roster) ActiveTargets(_ context.Context) ([]database.Target, error) {
	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	var targets []database.Target
	for _, e := range rf.Events {
		if e.Closed {
			continue
		}
		date, err := time.Parse(time.DateOnly, e.Date)
		if err != nil {
			return nil, fmt.Errorf("event %s: invalid date %q: %w", e.ID, e.Date, err)
		}
		targets = append(targets, database.Target{EventID: e.ID, EventName: e.Name, EventDate: date})
	}
	return targets, nil
}

// MarkPresent appends a line "<RFC3339 time>\t<event>\t<member>\tpresent" to the attendance log.
func (r *Roster) MarkPresent(_ context.Context, eventID, memberID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening attendance log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\t%s\t%s\t%s\n", at.UTC().Format(time.RFC3339), eventID, memberID, database.StatusPresent); err != nil {
		return fmt.Errorf("writing attendance log: %w", err)
	}
	return nil
}

// LogPath returns the attendance log location.
func (r *Roster) LogPath() string {
	return r.logPath
}
