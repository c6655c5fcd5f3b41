package job

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// DataStore persists job data payloads addressed by GUID.
type DataStore interface {
	// Put stores a payload under data.GUID.
	Put(ctx context.Context, data Data, payload []byte) error

	// Stat returns the metadata for guid without the payload.
	Stat(ctx context.Context, guid string) (Data, bool, error)

	// Get returns the metadata and payload for guid.
	Get(ctx context.Context, guid string) (Data, []byte, bool, error)

	// Delete removes the given payloads. Unknown GUIDs are ignored.
	Delete(ctx context.Context, guids ...string) error

	// List returns the metadata of every stored payload.
	List(ctx context.Context) ([]Data, error)

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

type storedData struct {
	data    Data
	payload []byte
}

// MemoryDataStore is an in-process DataStore.
type MemoryDataStore struct {
	mu   sync.RWMutex
	data map[string]storedData
}

// NewMemoryDataStore creates an empty in-process store.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{data: make(map[string]storedData)}
}

// Put implements DataStore.
func (m *MemoryDataStore) Put(_ context.Context, data Data, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[data.GUID] = storedData{data: data, payload: slices.Clone(payload)}
	return nil
}

// Stat implements DataStore.
func (m *MemoryDataStore) Stat(_ context.Context, guid string) (Data, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sd, ok := m.data[guid]
	return sd.data, ok, nil
}

// Get implements DataStore.
func (m *MemoryDataStore) Get(_ context.Context, guid string) (Data, []byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sd, ok := m.data[guid]
	if !ok {
		return Data{}, nil, false, nil
	}
	return sd.data, slices.Clone(sd.payload), true, nil
}

// Delete implements DataStore.
func (m *MemoryDataStore) Delete(_ context.Context, guids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range guids {
		delete(m.data, g)
	}
	return nil
}

// List implements DataStore.
func (m *MemoryDataStore) List(_ context.Context) ([]Data, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Data, 0, len(m.data))
	for _, k := range slices.Sorted(maps.Keys(m.data)) {
		result = append(result, m.data[k].data)
	}
	return result, nil
}

// Ping implements DataStore.
func (m *MemoryDataStore) Ping(context.Context) error {
	return nil
}

var _ DataStore = (*MemoryDataStore)(nil)
