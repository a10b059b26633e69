package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.Data == nil {
		snap.Data = json.RawMessage("{}")
	}
	now := formatTime(time.Now())
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO snapshots (name, device_name, command, os, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Name, snap.DeviceName, snap.Command, snap.OS, string(snap.Data), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("snapshot %q: %w", snap.Name, ErrDuplicateName)
		}
		return fmt.Errorf("create snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	snap.ID = id
	snap.CreatedAt = parseTime(now)
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id int64) (*Snapshot, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, name, device_name, command, os, data, created_at FROM snapshots WHERE id=?`, id)
	return scanSnapshot(row)
}

func (s *SQLiteStore) GetSnapshotByName(ctx context.Context, name string) (*Snapshot, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, name, device_name, command, os, data, created_at FROM snapshots WHERE name=?`, name)
	return scanSnapshot(row)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, deviceName string, p Pagination) (*PaginatedResult, error) {
	where := "1=1"
	var args []any
	if deviceName != "" {
		where = "device_name=?"
		args = append(args, deviceName)
	}

	var total int64
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count snapshots: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, name, device_name, command, os, data, created_at
		 FROM snapshots WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, p.PerPage, p.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return paginate(total, p, snaps), rows.Err()
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM snapshots WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var dataStr, createdAt string
	err := row.Scan(&snap.ID, &snap.Name, &snap.DeviceName, &snap.Command, &snap.OS, &dataStr, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	snap.Data = json.RawMessage(dataStr)
	snap.CreatedAt = parseTime(createdAt)
	return &snap, nil
}
