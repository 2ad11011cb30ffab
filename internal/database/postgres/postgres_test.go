//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return pool, func() {
		pool.Close()
		container.Terminate(ctx)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied failed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001_initial.sql" {
		t.Errorf("unexpected applied migrations: %v", applied)
	}
}

func TestMemberRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewMemberRepository(pool)

	bob, err := repo.CreateMember(ctx, "Bob", "Tenor", "https://photos.example/bob.jpg")
	if err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	alice, err := repo.CreateMember(ctx, "Alice", "Alto", "https://photos.example/alice.jpg")
	if err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO members (name, photo_url, status) VALUES ('Retired', 'x.jpg', 'inactive')`); err != nil {
		t.Fatalf("insert inactive member: %v", err)
	}

	t.Run("ActiveMembersOrderedByName", func(t *testing.T) {
		members, err := repo.ActiveMembers(ctx)
		if err != nil {
			t.Fatalf("ActiveMembers failed: %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("expected 2 active members, got %d", len(members))
		}
		if members[0].ID != alice || members[1].ID != bob {
			t.Errorf("unexpected order: %+v", members)
		}
		if members[0].GroupTag != "Alto" {
			t.Errorf("GroupTag = %q, want Alto", members[0].GroupTag)
		}
		if members[0].HasDescriptor() {
			t.Error("expected no stored descriptor")
		}
	})

	t.Run("SaveDescriptor", func(t *testing.T) {
		var d facematch.Descriptor
		for i := range d {
			d[i] = float32(i) / 128
		}
		if err := repo.SaveDescriptor(ctx, bob, d); err != nil {
			t.Fatalf("SaveDescriptor failed: %v", err)
		}

		members, err := repo.ActiveMembers(ctx)
		if err != nil {
			t.Fatalf("ActiveMembers failed: %v", err)
		}
		got := members[1]
		if !got.HasDescriptor() {
			t.Fatal("expected stored descriptor")
		}
		if *got.Descriptor != d {
			t.Error("descriptor changed in round trip")
		}
	})

	t.Run("SaveDescriptorUnknownMember", func(t *testing.T) {
		err := repo.SaveDescriptor(ctx, "00000000-0000-0000-0000-000000000000", facematch.Descriptor{})
		if err == nil {
			t.Error("expected error for unknown member")
		}
	})
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	members := NewMemberRepository(pool)
	repo := NewAttendanceRepository(pool)

	memberID, err := members.CreateMember(ctx, "Carol", "Soprano", "carol.jpg")
	if err != nil {
		t.Fatalf("CreateMember failed: %v", err)
	}

	older, err := repo.CreateEvent(ctx, "Rehearsal", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	newer, err := repo.CreateEvent(ctx, "Concert", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	targets, err := repo.ActiveTargets(ctx)
	if err != nil {
		t.Fatalf("ActiveTargets failed: %v", err)
	}
	if len(targets) != 2 || targets[0].EventID != newer || targets[1].EventID != older {
		t.Errorf("unexpected targets: %+v", targets)
	}

	status, err := repo.Status(ctx, newer, memberID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != database.StatusAbsent {
		t.Errorf("expected pre-filled absent record, got %q", status)
	}

	for range 2 {
		if err := repo.MarkPresent(ctx, newer, memberID, time.Now()); err != nil {
			t.Fatalf("MarkPresent failed: %v", err)
		}
	}
	status, err = repo.Status(ctx, newer, memberID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != database.StatusPresent {
		t.Errorf("expected present, got %q", status)
	}

	if _, err := pool.Exec(ctx, `UPDATE attendance_events SET event_status = $1 WHERE id = $2`, EventClosed, older); err != nil {
		t.Fatalf("close event: %v", err)
	}
	targets, err = repo.ActiveTargets(ctx)
	if err != nil {
		t.Fatalf("ActiveTargets failed: %v", err)
	}
	if len(targets) != 1 {
		t.Errorf("expected closed event to be excluded, got %+v", targets)
	}
}
