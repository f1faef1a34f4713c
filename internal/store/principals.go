// ABOUTME: Principal store methods: identities that may authenticate to the hub
// ABOUTME: Status gates whether a verified token is accepted during the handshake

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// encodeMetadata marshals principal metadata, enforcing MaxMetadataSize.
func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	if len(data) > MaxMetadataSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMetadataTooLarge, len(data))
	}
	return string(data), nil
}

// CreatePrincipal inserts a new principal. CreatedAt defaults to now.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO principals (principal_id, type, display_name, status, created_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.Type,
		p.DisplayName,
		p.Status,
		p.CreatedAt.UTC().Format(time.RFC3339),
		nullString(metadata),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicatePrincipal
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Info("created principal", "id", p.ID, "type", p.Type, "status", p.Status)
	return nil
}

const principalColumns = `principal_id, type, display_name, status, created_at, last_seen, metadata_json`

func scanPrincipal(scanner interface{ Scan(dest ...any) error }) (*Principal, error) {
	var p Principal
	var typ, status, createdAt string
	var lastSeen, metadata sql.NullString

	if err := scanner.Scan(&p.ID, &typ, &p.DisplayName, &status, &createdAt, &lastSeen, &metadata); err != nil {
		return nil, err
	}
	p.Type = PrincipalType(typ)
	p.Status = PrincipalStatus(status)

	var err error
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastSeen.Valid {
		ts, err := time.Parse(time.RFC3339, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		p.LastSeen = &ts
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &p, nil
}

// GetPrincipal retrieves a principal by id.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE principal_id = ?`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	return p, nil
}

// filterArgs returns the nullable type/status arguments of a filter.
func (f PrincipalFilter) filterArgs() (typ, status *string) {
	if f.Type != nil {
		t := string(*f.Type)
		typ = &t
	}
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	return typ, status
}

// ListPrincipals returns principals ordered by creation time, oldest first.
func (s *SQLiteStore) ListPrincipals(ctx context.Context, f PrincipalFilter) ([]Principal, error) {
	typ, status := f.filterArgs()
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE (? IS NULL OR type = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY created_at ASC, principal_id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, typ, typ, status, status, normalizeLimit(f.Limit), f.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	principals := []Principal{}
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning principal: %w", err)
		}
		principals = append(principals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}
	return principals, nil
}

// CountPrincipals counts principals matching the filter. Limit and Offset
// are ignored.
func (s *SQLiteStore) CountPrincipals(ctx context.Context, f PrincipalFilter) (int, error) {
	typ, status := f.filterArgs()
	query := `
		SELECT COUNT(*) FROM principals
		WHERE (? IS NULL OR type = ?)
		  AND (? IS NULL OR status = ?)
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, typ, typ, status, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return n, nil
}

// UpdatePrincipalStatus changes a principal's status.
func (s *SQLiteStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE principals SET status = ? WHERE principal_id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating principal status: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	s.logger.Info("updated principal status", "id", id, "status", status)
	return nil
}

// TouchPrincipal records the last time a principal authenticated.
func (s *SQLiteStore) TouchPrincipal(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE principals SET last_seen = ? WHERE principal_id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating principal last_seen: %w", err)
	}
	return expectOneRow(result)
}

// DeletePrincipal removes a principal. Audit entries referring to it remain.
func (s *SQLiteStore) DeletePrincipal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM principals WHERE principal_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting principal: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	s.logger.Info("deleted principal", "id", id)
	return nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}
