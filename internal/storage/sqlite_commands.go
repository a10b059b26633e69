package storage

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLiteStore) InsertCommandRecord(ctx context.Context, r *CommandRecord) error {
	now := formatTime(time.Now())
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO command_log (request_id, device_name, command, exec_status, message, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.DeviceName, r.Command, r.ExecStatus, r.Message, r.DurationMs, now,
	)
	if err != nil {
		return fmt.Errorf("insert command record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	r.CreatedAt = parseTime(now)
	return nil
}

func (s *SQLiteStore) ListCommandRecords(ctx context.Context, deviceName string, p Pagination) (*PaginatedResult, error) {
	where := "1=1"
	var args []any
	if deviceName != "" {
		where = "device_name=?"
		args = append(args, deviceName)
	}

	var total int64
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM command_log WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count command records: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, request_id, device_name, command, exec_status, message, duration_ms, created_at
		 FROM command_log WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, p.PerPage, p.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list command records: %w", err)
	}
	defer rows.Close()

	records := []*CommandRecord{}
	for rows.Next() {
		var r CommandRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.DeviceName, &r.Command, &r.ExecStatus,
			&r.Message, &r.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		records = append(records, &r)
	}
	return paginate(total, p, records), rows.Err()
}

// PurgeOldData removes command log entries older than the cutoff.
func (s *SQLiteStore) PurgeOldData(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM command_log WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purge command log: %w", err)
	}
	return res.RowsAffected()
}
