package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/store"
)

var profileColumns = []string{"id", "name", "headers", "fields", "created_at", "updated_at"}

// ListProfiles returns every saved mapping profile ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]mapping.Profile, error) {
	query, args, err := builder.Select(profileColumns...).
		From("mapping_profiles").
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build profile query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "mapping profiles")
	}
	defer rows.Close()

	profiles := []mapping.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "mapping profiles")
	}
	return profiles, nil
}

// GetProfile returns one profile or store.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (mapping.Profile, error) {
	query, args, err := builder.Select(profileColumns...).
		From("mapping_profiles").
		Where("id = ?", id). // sq.Eq would bind the uuid as its string Value
		ToSql()
	if err != nil {
		return mapping.Profile{}, fmt.Errorf("build profile query: %w", err)
	}
	return scanProfile(s.db.QueryRow(ctx, query, args...))
}

// SaveProfile inserts p and returns it with its id and timestamps. A name
// already in use returns store.ErrDuplicate.
func (s *Store) SaveProfile(ctx context.Context, p mapping.Profile) (mapping.Profile, error) {
	headers, err := json.Marshal(p.Headers)
	if err != nil {
		return mapping.Profile{}, fmt.Errorf("encode headers: %w", err)
	}
	fields, err := json.Marshal(p.Fields)
	if err != nil {
		return mapping.Profile{}, fmt.Errorf("encode fields: %w", err)
	}

	query, args, err := builder.Insert("mapping_profiles").
		Columns("name", "headers", "fields").
		Values(p.Name, headers, fields).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return mapping.Profile{}, fmt.Errorf("build profile insert: %w", err)
	}

	if err := s.db.QueryRow(ctx, query, args...).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapping.Profile{}, mapError(err, "mapping profile "+p.Name)
	}
	return p, nil
}

// DeleteProfile removes a profile or returns store.ErrNotFound.
func (s *Store) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	query, args, err := builder.Delete("mapping_profiles").
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return fmt.Errorf("build profile delete: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "mapping profile")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mapping profile %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func scanProfile(row pgx.Row) (mapping.Profile, error) {
	var (
		p       mapping.Profile
		headers []byte
		fields  []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &headers, &fields, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapping.Profile{}, mapError(err, "mapping profile")
	}
	if err := json.Unmarshal(headers, &p.Headers); err != nil {
		return mapping.Profile{}, fmt.Errorf("decode profile %s headers: %w", p.ID, err)
	}
	if err := json.Unmarshal(fields, &p.Fields); err != nil {
		return mapping.Profile{}, fmt.Errorf("decode profile %s fields: %w", p.ID, err)
	}
	return p, nil
}
