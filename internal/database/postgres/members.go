package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// MemberRepository reads the roster and stores member descriptors.
type MemberRepository struct {
	pool *Pool
}

// NewMemberRepository creates a new PostgreSQL member repository.
func NewMemberRepository(pool *Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// ActiveMembers returns members without a status or with status 'active', ordered by name.
func (r *MemberRepository) ActiveMembers(ctx context.Context) ([]database.Member, error) {
	query := `
		SELECT id::text, name,
		       concat_ws(' / ', NULLIF(department, ''), NULLIF(part, ''), NULLIF(group_number, '')),
		       photo_url, face_descriptor
		FROM members
		WHERE (status IS NULL OR status = 'active') AND photo_url <> ''
		ORDER BY name, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []database.Member
	for rows.Next() {
		var (
			m   database.Member
			vec sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.GroupTag, &m.PhotoRef, &vec); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if vec.Valid {
			// A descriptor of the wrong length is ignored so the member is extracted again.
			if d, err := facematch.DescriptorFromSlice(vec.V.Slice()); err == nil {
				m.Descriptor = &d
			}
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// SaveDescriptor stores the descriptor on the member row.
func (r *MemberRepository) SaveDescriptor(ctx context.Context, memberID string, d facematch.Descriptor) error {
	vec := pgvector.NewVector(d.Slice())
	result, err := r.pool.Exec(ctx,
		`UPDATE members SET face_descriptor = $1, updated_at = NOW() WHERE id = $2`,
		vec, memberID,
	)
	if err != nil {
		return fmt.Errorf("save descriptor: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("member %s not found", memberID)
	}
	return nil
}

// CreateMember inserts a member and returns its ID. Used by seeding and tests.
func (r *MemberRepository) CreateMember(ctx context.Context, name, department, photoURL string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO members (name, department, photo_url) VALUES ($1, $2, $3) RETURNING id::text`,
		name, department, photoURL,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert member: %w", err)
	}
	return id, nil
}
