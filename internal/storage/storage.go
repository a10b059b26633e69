package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when a unique name is already taken.
var ErrDuplicateName = errors.New("name already exists")

// Store defines the complete storage interface.
type Store interface {
	// Devices
	CreateDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id int64) (*Device, error)
	GetDeviceByName(ctx context.Context, name string) (*Device, error)
	ListDevices(ctx context.Context, f DeviceListFilter, p Pagination) (*PaginatedResult, error)
	GetAllEnabledDevices(ctx context.Context) ([]*Device, error)
	UpdateDevice(ctx context.Context, d *Device) error
	DeleteDevice(ctx context.Context, id int64) error
	DeleteDeviceByName(ctx context.Context, name string) error

	// Command audit log
	InsertCommandRecord(ctx context.Context, r *CommandRecord) error
	ListCommandRecords(ctx context.Context, deviceName string, p Pagination) (*PaginatedResult, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, s *Snapshot) error
	GetSnapshot(ctx context.Context, id int64) (*Snapshot, error)
	GetSnapshotByName(ctx context.Context, name string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, deviceName string, p Pagination) (*PaginatedResult, error)
	DeleteSnapshot(ctx context.Context, id int64) error

	// Retention
	PurgeOldData(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
