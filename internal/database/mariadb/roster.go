package mariadb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ActiveMembers reads active members. The face_descriptor column holds a JSON
// array of 128 numbers when the member already has a descriptor.
func (p *Pool) ActiveMembers(ctx context.Context) ([]database.Member, error) {
	query := `
		SELECT id, name, department, part, COALESCE(group_number, ''), photo_url, face_descriptor
		FROM members
		WHERE (status IS NULL OR status = 'active') AND photo_url <> ''
		ORDER BY name, id
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []database.Member
	for rows.Next() {
		var (
			m                       database.Member
			department, part, group string
			descriptorJSON          []byte
		)
		if err := rows.Scan(&m.ID, &m.Name, &department, &part, &group, &m.PhotoRef, &descriptorJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		m.GroupTag = groupTag(department, part, group)
		m.Descriptor = parseDescriptor(descriptorJSON)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return members, nil
}

func groupTag(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " / ")
}

// parseDescriptor decodes a stored JSON descriptor; anything malformed counts as missing.
func parseDescriptor(data []byte) *facematch.Descriptor {
	if len(data) == 0 {
		return nil
	}
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil
	}
	d, err := facematch.DescriptorFromFloat64(values)
	if err != nil {
		return nil
	}
	return &d
}
