package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS face_descriptors (
	member_id   TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	descriptor  BLOB NOT NULL,
	created_at  INTEGER NOT NULL
)`

// SQLiteStore persists entries in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	// modernc.org/sqlite expects every pragma prefixed with _pragma=.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, memberID string) (*Entry, error) {
	var (
		fingerprint string
		blob        []byte
		createdAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, descriptor, created_at FROM face_descriptors WHERE member_id = ?`,
		memberID,
	).Scan(&fingerprint, &blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("loading descriptor: %w", err))
	}

	desc, err := decodeDescriptor(blob)
	if err != nil {
		// A corrupt row is treated as absent and overwritten on the next extraction.
		return nil, nil
	}
	return &Entry{
		MemberID:    memberID,
		Fingerprint: fingerprint,
		Descriptor:  desc,
		CreatedAt:   time.UnixMilli(createdAt),
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO face_descriptors (member_id, fingerprint, descriptor, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			descriptor = excluded.descriptor,
			created_at = excluded.created_at`,
		entry.MemberID, entry.Fingerprint, encodeDescriptor(entry.Descriptor), entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return wrapClosed(fmt.Errorf("saving descriptor: %w", err))
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM face_descriptors`); err != nil {
		return wrapClosed(fmt.Errorf("clearing descriptors: %w", err))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func wrapClosed(err error) error {
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

// encodeDescriptor packs the components as little-endian float32.
func encodeDescriptor(d facematch.Descriptor) []byte {
	buf := make([]byte, 4*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeDescriptor(b []byte) (facematch.Descriptor, error) {
	if len(b)%4 != 0 {
		return facematch.Descriptor{}, facematch.ErrDescriptorLength
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return facematch.DescriptorFromSlice(v)
}
