package store

import (
	"context"
	"fmt"
	"sync"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	mu     sync.Mutex
	values map[string]string
	rows   []DataRow

	// GetError and SetError, if set, are returned by reads and writes.
	GetError error
	SetError error
}

// NewFakeStore creates a FakeStore holding a copy of initial.
func NewFakeStore(initial map[string]string) *FakeStore {
	f := &FakeStore{values: make(map[string]string)}
	for k, v := range initial {
		f.values[k] = v
	}
	return f
}

func (f *FakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetError != nil {
		return "", f.GetError
	}
	v, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (f *FakeStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.values[key] = value
	return nil
}

func (f *FakeStore) SetMany(_ context.Context, kv map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	for k, v := range kv {
		f.values[k] = v
	}
	return nil
}

// Seed sets each pair whose key is not already present.
func (f *FakeStore) Seed(_ context.Context, defaults map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	for k, v := range defaults {
		if _, ok := f.values[k]; !ok {
			f.values[k] = v
		}
	}
	return nil
}

func (f *FakeStore) InsertDataRow(_ context.Context, row DataRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	row.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, row)
	return nil
}

func (f *FakeStore) LastDataRow(_ context.Context) (*DataRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetError != nil {
		return nil, f.GetError
	}
	if len(f.rows) == 0 {
		return nil, nil
	}
	row := f.rows[len(f.rows)-1]
	return &row, nil
}

// Value returns the raw value of key and whether it is set.
func (f *FakeStore) Value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// Rows returns a copy of the inserted data rows.
func (f *FakeStore) Rows() []DataRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DataRow(nil), f.rows...)
}
