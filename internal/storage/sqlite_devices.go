package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const deviceColumns = `id, name, host, device_type, enabled, transport, port, username, password,
	terminal, http, http_scheme, http_port, snmp, snmp_community, forwarded_tcp_ports, attributes,
	created_at, updated_at`

func (s *SQLiteStore) CreateDevice(ctx context.Context, d *Device) error {
	ports, _ := json.Marshal(d.ForwardedTCPPorts)
	if d.Attributes == nil {
		d.Attributes = json.RawMessage("{}")
	}
	if d.Transport == "" {
		d.Transport = "ssh"
	}
	if d.HTTPScheme == "" {
		d.HTTPScheme = "https"
	}
	now := formatTime(time.Now())

	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO devices (name, host, device_type, enabled, transport, port, username, password,
		 terminal, http, http_scheme, http_port, snmp, snmp_community, forwarded_tcp_ports, attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Host, d.DeviceType, boolToInt(d.Enabled), d.Transport, d.Port, d.Username, d.Password,
		boolToInt(d.Terminal), boolToInt(d.HTTP), d.HTTPScheme, d.HTTPPort, boolToInt(d.SNMP), d.SNMPCommunity,
		string(ports), string(d.Attributes), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("device %q: %w", d.Name, ErrDuplicateName)
		}
		return fmt.Errorf("create device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	d.CreatedAt = parseTime(now)
	d.UpdatedAt = parseTime(now)
	return nil
}

func (s *SQLiteStore) GetDevice(ctx context.Context, id int64) (*Device, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

func (s *SQLiteStore) GetDeviceByName(ctx context.Context, name string) (*Device, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE name = ?`, name)
	return scanDevice(row)
}

func (s *SQLiteStore) ListDevices(ctx context.Context, f DeviceListFilter, p Pagination) (*PaginatedResult, error) {
	where := "1=1"
	var args []any

	if f.DeviceType != "" {
		where += " AND device_type=?"
		args = append(args, f.DeviceType)
	}
	if f.Enabled != nil {
		where += " AND enabled=?"
		args = append(args, boolToInt(*f.Enabled))
	}
	if f.Search != "" {
		where += " AND (name LIKE '%' || ? || '%' OR host LIKE '%' || ? || '%')"
		args = append(args, f.Search, f.Search)
	}

	var total int64
	if err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE `+where+` ORDER BY name LIMIT ? OFFSET ?`,
		append(args, p.PerPage, p.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := []*Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return paginate(total, p, devices), rows.Err()
}

func (s *SQLiteStore) GetAllEnabledDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE enabled=1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list enabled devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLiteStore) UpdateDevice(ctx context.Context, d *Device) error {
	ports, _ := json.Marshal(d.ForwardedTCPPorts)
	if d.Attributes == nil {
		d.Attributes = json.RawMessage("{}")
	}
	now := formatTime(time.Now())

	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE devices SET name=?, host=?, device_type=?, enabled=?, transport=?, port=?, username=?, password=?,
		 terminal=?, http=?, http_scheme=?, http_port=?, snmp=?, snmp_community=?, forwarded_tcp_ports=?, attributes=?, updated_at=?
		 WHERE id=?`,
		d.Name, d.Host, d.DeviceType, boolToInt(d.Enabled), d.Transport, d.Port, d.Username, d.Password,
		boolToInt(d.Terminal), boolToInt(d.HTTP), d.HTTPScheme, d.HTTPPort, boolToInt(d.SNMP), d.SNMPCommunity,
		string(ports), string(d.Attributes), now, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	d.UpdatedAt = parseTime(now)
	return nil
}

func (s *SQLiteStore) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM devices WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteDeviceByName(ctx context.Context, name string) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM devices WHERE name=?`, name)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDevice(row scanner) (*Device, error) {
	var d Device
	var portsStr, attrsStr string
	var createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.Name, &d.Host, &d.DeviceType, &d.Enabled, &d.Transport, &d.Port,
		&d.Username, &d.Password, &d.Terminal, &d.HTTP, &d.HTTPScheme, &d.HTTPPort,
		&d.SNMP, &d.SNMPCommunity, &portsStr, &attrsStr, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	json.Unmarshal([]byte(portsStr), &d.ForwardedTCPPorts)
	if d.ForwardedTCPPorts == nil {
		d.ForwardedTCPPorts = []int{}
	}
	d.Attributes = json.RawMessage(attrsStr)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}
