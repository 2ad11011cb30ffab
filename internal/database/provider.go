package database

import (
	"context"
	"errors"
	"sync"
)

// ErrNotConfigured is returned when no registered backend provides a capability.
var ErrNotConfigured = errors.New("no database backend configured: set DATABASE_URL, MARIADB_DSN or ROSTER_FILE")

// Backend names, in order of precedence.
const (
	BackendPostgres = "postgres"
	BackendMariaDB  = "mariadb"
	BackendFile     = "file"
)

var precedence = []string{BackendPostgres, BackendMariaDB, BackendFile}

// Backend holds the repository constructors a storage backend offers.
// Nil constructors mean the backend lacks that capability.
type Backend struct {
	Roster      func() RosterReader
	Targets     func() TargetReader
	Attendance  func() AttendanceWriter
	Descriptors func() DescriptorWriter
}

var (
	registryMu sync.RWMutex
	backends   = map[string]Backend{}
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	roster func() RosterReader,
	targets func() TargetReader,
	attendance func() AttendanceWriter,
	descriptors func() DescriptorWriter,
) {
	register(BackendPostgres, Backend{Roster: roster, Targets: targets, Attendance: attendance, Descriptors: descriptors})
}

// RegisterMariaDBBackend registers the read-only MariaDB roster.
func RegisterMariaDBBackend(roster func() RosterReader) {
	register(BackendMariaDB, Backend{Roster: roster})
}

// RegisterFileBackend registers the YAML roster file backend.
func RegisterFileBackend(roster func() RosterReader, targets func() TargetReader, attendance func() AttendanceWriter) {
	register(BackendFile, Backend{Roster: roster, Targets: targets, Attendance: attendance})
}

func register(name string, b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = b
}

// Reset drops every registered backend.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends = map[string]Backend{}
}

// IsInitialized returns whether any backend has been registered.
func IsInitialized() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(backends) > 0
}

// ActiveBackend returns the name of the backend that serves the roster.
func ActiveBackend() string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range precedence {
		if b, ok := backends[name]; ok && b.Roster != nil {
			return name
		}
	}
	return ""
}

// lookup returns the first backend, by precedence, for which pick is non-nil.
func lookup[T any](pick func(Backend) func() T) (T, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range precedence {
		b, ok := backends[name]
		if !ok {
			continue
		}
		if ctor := pick(b); ctor != nil {
			return ctor(), nil
		}
	}
	var zero T
	return zero, ErrNotConfigured
}

// GetRosterReader returns the roster of the highest-precedence backend.
func GetRosterReader(_ context.Context) (RosterReader, error) {
	return lookup(func(b Backend) func() RosterReader { return b.Roster })
}

// GetTargetReader returns the attendance target source.
func GetTargetReader(_ context.Context) (TargetReader, error) {
	return lookup(func(b Backend) func() TargetReader { return b.Targets })
}

// GetAttendanceWriter returns where check-ins are recorded.
func GetAttendanceWriter(_ context.Context) (AttendanceWriter, error) {
	return lookup(func(b Backend) func() AttendanceWriter { return b.Attendance })
}

// GetDescriptorWriter returns where synced descriptors are stored.
func GetDescriptorWriter(_ context.Context) (DescriptorWriter, error) {
	return lookup(func(b Backend) func() DescriptorWriter { return b.Descriptors })
}
