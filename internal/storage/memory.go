package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a Store kept entirely in memory. It backs tests and
// ephemeral runs where no database path is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[int64]*Device
	commands  []*CommandRecord
	snapshots map[int64]*Snapshot
	nextID    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[int64]*Device),
		snapshots: make(map[int64]*Snapshot),
		nextID:    1,
	}
}

func (m *MemoryStore) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func copyDevice(d *Device) *Device {
	c := *d
	c.ForwardedTCPPorts = append([]int(nil), d.ForwardedTCPPorts...)
	return &c
}

func (m *MemoryStore) CreateDevice(ctx context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.Name == d.Name {
			return ErrDuplicateName
		}
	}
	d.ID = m.id()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.devices[d.ID] = copyDevice(d)
	return nil
}

func (m *MemoryStore) GetDevice(ctx context.Context, id int64) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(d), nil
}

func (m *MemoryStore) GetDeviceByName(ctx context.Context, name string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.Name == name {
			return copyDevice(d), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) sortedDevices() []*Device {
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, copyDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemoryStore) ListDevices(ctx context.Context, f DeviceListFilter, p Pagination) (*PaginatedResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*Device
	for _, d := range m.sortedDevices() {
		if f.DeviceType != "" && d.DeviceType != f.DeviceType {
			continue
		}
		if f.Enabled != nil && d.Enabled != *f.Enabled {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.Search)) {
			continue
		}
		filtered = append(filtered, d)
	}

	start, end := pageBounds(len(filtered), p)
	return paginate(int64(len(filtered)), p, filtered[start:end]), nil
}

func pageBounds(total int, p Pagination) (int, int) {
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.PerPage
	if end > total {
		end = total
	}
	return start, end
}

func (m *MemoryStore) GetAllEnabledDevices(ctx context.Context) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Device
	for _, d := range m.sortedDevices() {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateDevice(ctx context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; !ok {
		return ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	m.devices[d.ID] = copyDevice(d)
	return nil
}

func (m *MemoryStore) DeleteDevice(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MemoryStore) DeleteDeviceByName(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.devices {
		if d.Name == name {
			delete(m.devices, id)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) InsertCommandRecord(ctx context.Context, r *CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.CreatedAt = time.Now().UTC()
	c := *r
	m.commands = append(m.commands, &c)
	return nil
}

func (m *MemoryStore) ListCommandRecords(ctx context.Context, deviceName string, p Pagination) (*PaginatedResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*CommandRecord
	for i := len(m.commands) - 1; i >= 0; i-- {
		r := m.commands[i]
		if deviceName != "" && r.DeviceName != deviceName {
			continue
		}
		c := *r
		filtered = append(filtered, &c)
	}

	start, end := pageBounds(len(filtered), p)
	return paginate(int64(len(filtered)), p, filtered[start:end]), nil
}

func (m *MemoryStore) CreateSnapshot(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.snapshots {
		if existing.Name == s.Name {
			return ErrDuplicateName
		}
	}
	s.ID = m.id()
	s.CreatedAt = time.Now().UTC()
	c := *s
	m.snapshots[s.ID] = &c
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, id int64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) GetSnapshotByName(ctx context.Context, name string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		if s.Name == name {
			c := *s
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListSnapshots(ctx context.Context, deviceName string, p Pagination) (*PaginatedResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*Snapshot
	for _, s := range m.snapshots {
		if deviceName != "" && s.DeviceName != deviceName {
			continue
		}
		c := *s
		filtered = append(filtered, &c)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	start, end := pageBounds(len(filtered), p)
	return paginate(int64(len(filtered)), p, filtered[start:end]), nil
}

func (m *MemoryStore) DeleteSnapshot(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(m.snapshots, id)
	return nil
}

func (m *MemoryStore) PurgeOldData(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*CommandRecord
	var purged int64
	for _, r := range m.commands {
		if r.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	m.commands = kept
	return purged, nil
}

func (m *MemoryStore) Close() error { return nil }
