package config

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/natsclient"
)

// memStore is an in-memory OptionStore. Put notifies running watchers.
type memStore struct {
	mu       sync.Mutex
	entries  map[string]natsclient.KVEntry
	rev      uint64
	watchers []chan natsclient.KVEntry
	watching chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		entries:  make(map[string]natsclient.KVEntry),
		watching: make(chan struct{}),
	}
}

func (s *memStore) Get(_ context.Context, key string) (*natsclient.KVEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "memStore", "Get", key)
	}
	return &e, nil
}

func (s *memStore) Put(_ context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	s.rev++
	e := natsclient.KVEntry{Key: key, Value: value, Revision: s.rev}
	s.entries[key] = e
	watchers := append([]chan natsclient.KVEntry(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		w <- e
	}
	return e.Revision, nil
}

func (s *memStore) remove(key string) {
	s.mu.Lock()
	s.rev++
	e := natsclient.KVEntry{Key: key, Revision: s.rev, Deleted: true}
	delete(s.entries, key)
	watchers := append([]chan natsclient.KVEntry(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		w <- e
	}
}

func (s *memStore) Watch(ctx context.Context, key string, fn func(natsclient.KVEntry)) error {
	ch := make(chan natsclient.KVEntry, 16)
	s.mu.Lock()
	current, ok := s.entries[key]
	s.watchers = append(s.watchers, ch)
	first := len(s.watchers) == 1
	s.mu.Unlock()
	if first {
		close(s.watching)
	}

	if ok {
		fn(current)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-ch:
			if e.Key == key {
				fn(e)
			}
		}
	}
}

func (s *memStore) stored(t *testing.T, key string) optionsDocument {
	t.Helper()
	e, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	var doc optionsDocument
	require.NoError(t, json.Unmarshal(e.Value, &doc))
	return doc
}

func (s *memStore) putDoc(t *testing.T, key, version string, opts Options) {
	t.Helper()
	data, err := json.Marshal(optionsDocument{Version: version, Instance: key, Options: opts})
	require.NoError(t, err)
	_, err = s.Put(context.Background(), key, data)
	require.NoError(t, err)
}

func startManager(t *testing.T, cfg *Config, store *memStore) *Manager {
	t.Helper()
	m, err := NewManager(cfg, store, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(time.Second) })

	select {
	case <-store.watching:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not start watching")
	}
	return m
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, newMemStore(), nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = NewManager(Default(), nil, nil)
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestManager_FirstBootPushes(t *testing.T) {
	store := newMemStore()
	cfg := Default()
	cfg.Options.Volume = 80

	m := startManager(t, cfg, store)

	doc := store.stored(t, cfg.Instance)
	assert.Equal(t, cfg.Version, doc.Version)
	assert.Equal(t, uint32(80), doc.Options.Volume)
	assert.Equal(t, uint32(80), m.Options().Volume)

	// The initial replay of our own write is not reported as an update.
	select {
	case u := <-m.Updates():
		t.Fatalf("unexpected update at revision %d", u.Revision)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_StartupReconciliation(t *testing.T) {
	tests := []struct {
		name        string
		fileVersion string
		kvVersion   string
		wantVolume  uint32
		wantPushed  bool
	}{
		{"file newer pushes", "2.0.0", "1.0.0", 90, true},
		{"equal adopts store", "1.0.0", "1.0.0", 20, false},
		{"file older adopts store", "1.0.0", "1.5.0", 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			stored := DefaultOptions()
			stored.Volume = 20
			store.putDoc(t, "compositor", tt.kvVersion, stored)

			cfg := Default()
			cfg.Version = tt.fileVersion
			cfg.Options.Volume = 90

			m := startManager(t, cfg, store)
			assert.Equal(t, tt.wantVolume, m.Options().Volume)

			doc := store.stored(t, "compositor")
			if tt.wantPushed {
				assert.Equal(t, tt.fileVersion, doc.Version)
				assert.Equal(t, uint32(90), doc.Options.Volume)
			} else {
				assert.Equal(t, tt.kvVersion, doc.Version)
			}
		})
	}
}

func TestManager_InvalidStoredOptionsKeepFile(t *testing.T) {
	store := newMemStore()
	stored := DefaultOptions()
	stored.Pan = 300
	store.putDoc(t, "compositor", "1.0.0", stored)

	m := startManager(t, Default(), store)
	assert.Equal(t, uint32(50), m.Options().Pan)
}

func TestManager_DeliversUpdates(t *testing.T) {
	store := newMemStore()
	m := startManager(t, Default(), store)

	next := DefaultOptions()
	next.Volume = 35
	store.putDoc(t, "compositor", "1.0.0", next)

	select {
	case u := <-m.Updates():
		assert.Equal(t, uint32(35), u.Options.Volume)
		assert.Equal(t, uint64(2), u.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
	assert.Equal(t, uint32(35), m.Options().Volume)
}

func TestManager_RejectsInvalidUpdates(t *testing.T) {
	store := newMemStore()
	m := startManager(t, Default(), store)

	_, err := store.Put(context.Background(), "compositor", []byte("{not json"))
	require.NoError(t, err)

	bad := DefaultOptions()
	bad.FPS.Num = 0
	store.putDoc(t, "compositor", "1.0.0", bad)

	store.remove("compositor")

	good := DefaultOptions()
	good.Pan = 10
	store.putDoc(t, "compositor", "1.0.0", good)

	select {
	case u := <-m.Updates():
		assert.Equal(t, uint32(10), u.Options.Pan)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestManager_LatestUpdateWins(t *testing.T) {
	store := newMemStore()
	m := startManager(t, Default(), store)

	for _, vol := range []uint32{10, 20, 30} {
		opts := DefaultOptions()
		opts.Volume = vol
		store.putDoc(t, "compositor", "1.0.0", opts)
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for {
		select {
		case u := <-m.Updates():
			received++
			if u.Options.Volume == 30 {
				assert.LessOrEqual(t, received, 3)
				assert.Equal(t, uint32(30), m.Options().Volume)
				return
			}
		case <-deadline:
			t.Fatal("latest update not delivered")
		}
	}
}

func TestManager_Lifecycle(t *testing.T) {
	store := newMemStore()
	m, err := NewManager(Default(), store, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	err = m.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second))

	_, open := <-m.Updates()
	assert.False(t, open)

	err = m.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}
