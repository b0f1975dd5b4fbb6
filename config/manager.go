package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/natsclient"
	"github.com/c360/mediacompose/pkg/retry"
)

// DefaultOptionsBucket is the KV bucket holding runtime compositor options,
// one key per instance.
const DefaultOptionsBucket = "mediacompose_options"

// OptionStore is the subset of a KV bucket the Manager needs.
// *natsclient.KVStore satisfies it.
type OptionStore interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Watch(ctx context.Context, key string, fn func(natsclient.KVEntry)) error
}

// Update carries a validated option set read from the store.
type Update struct {
	Options  Options
	Revision uint64
}

// optionsDocument is the stored form of an instance's options.
type optionsDocument struct {
	Version   string    `json:"version"`
	Instance  string    `json:"instance"`
	Options   Options   `json:"options"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager keeps an instance's options in sync with a KV bucket so operators
// can retune a running compositor.
type Manager struct {
	config *SafeConfig
	store  OptionStore
	key    string
	logger *slog.Logger

	updates  chan Update
	lastRev  atomic.Uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
	watchCfg retry.Config
}

// NewManager creates a manager over store. The configuration's Instance is
// the KV key.
func NewManager(cfg *Config, store OptionStore, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "check config")
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "Manager", "NewManager", "option store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   NewSafeConfig(cfg.Clone()),
		store:    store,
		key:      cfg.Instance,
		logger:   logger.With("component", "config-manager", "key", cfg.Instance),
		updates:  make(chan Update, 1),
		watchCfg: retry.Persistent(),
	}, nil
}

// NewManagerFromClient creates or opens the configured options bucket and
// returns a manager over it.
func NewManagerFromClient(ctx context.Context, cfg *Config, client *natsclient.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManagerFromClient", "check config")
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrBadParameter, "Manager", "NewManagerFromClient", "nats client is nil")
	}
	bucket := cfg.NATS.OptionsBucket
	if bucket == "" {
		bucket = DefaultOptionsBucket
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "mediacompose runtime options",
		History:     5,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "NewManagerFromClient", "create/get KV bucket")
	}
	return NewManager(cfg, client.NewKVStore(kv, cfg.NATS.Timeout.Std()), logger)
}

// Config returns the managed configuration.
func (m *Manager) Config() *SafeConfig { return m.config }

// Options returns the current options.
func (m *Manager) Options() Options { return m.config.Get().Options }

// Updates delivers option changes made in the store after Start. Only the
// latest pending update is kept. The channel is closed by Stop.
func (m *Manager) Updates() <-chan Update { return m.updates }

// Start reconciles the file configuration with the store and begins watching
// for changes.
//
// With no stored document the file options are pushed. Otherwise the versions
// decide: a newer file overwrites the store, anything else adopts the stored
// options when they validate.
func (m *Manager) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Manager", "Start", "check state")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "check state")
	}

	m.reconcile(ctx)

	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.watch(watchCtx)
	return nil
}

func (m *Manager) reconcile(ctx context.Context) {
	entry, err := m.store.Get(ctx, m.key)
	if err != nil {
		if !errors.IsInvalid(err) {
			m.logger.Warn("Failed to read stored options, pushing file options", "error", err)
		} else {
			m.logger.Info("No stored options, pushing file options")
		}
		if err := m.PushToKV(ctx); err != nil {
			m.logger.Error("Failed to push options to KV", "error", err)
		}
		return
	}
	m.lastRev.Store(entry.Revision)

	doc, err := decodeOptionsDocument(entry.Value)
	if err != nil {
		m.logger.Warn("Stored options are unreadable, pushing file options", "error", err)
		if err := m.PushToKV(ctx); err != nil {
			m.logger.Error("Failed to push options to KV", "error", err)
		}
		return
	}

	fileVersion := m.config.Get().Version
	cmp, err := CompareVersions(fileVersion, doc.Version)
	switch {
	case err != nil:
		m.logger.Warn("Failed to compare versions, using stored options",
			"file_version", fileVersion, "kv_version", doc.Version, "error", err)
	case cmp > 0:
		m.logger.Info("File version is newer than KV, updating KV",
			"file_version", fileVersion, "kv_version", doc.Version)
		if err := m.PushToKV(ctx); err != nil {
			m.logger.Error("Failed to update KV with newer options", "error", err)
		}
		return
	case cmp < 0:
		m.logger.Warn("File version is older than KV, using stored options",
			"file_version", fileVersion, "kv_version", doc.Version,
			"hint", "bump file version to update KV")
	}

	if err := m.adopt(doc.Options); err != nil {
		m.logger.Warn("Stored options rejected, keeping file options", "error", err)
	}
}

// PushToKV writes the current options to the store.
func (m *Manager) PushToKV(ctx context.Context) error {
	cfg := m.config.Get()
	data, err := json.Marshal(optionsDocument{
		Version:   cfg.Version,
		Instance:  cfg.Instance,
		Options:   cfg.Options,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "Manager", "PushToKV", "encode options")
	}
	rev, err := m.store.Put(ctx, m.key, data)
	if err != nil {
		return err
	}
	m.lastRev.Store(rev)
	return nil
}

func (m *Manager) adopt(opts Options) error {
	cfg := m.config.Get()
	cfg.Options = opts
	return m.config.Update(cfg)
}

func (m *Manager) watch(ctx context.Context) {
	defer m.wg.Done()

	err := retry.Do(ctx, m.watchCfg, func() error {
		err := m.store.Watch(ctx, m.key, m.handle)
		if err != nil && ctx.Err() == nil {
			m.logger.Warn("Options watch interrupted", "error", err)
			return err
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		m.logger.Error("Options watch abandoned", "error", err)
	}
}

func (m *Manager) handle(entry natsclient.KVEntry) {
	if m.stopped.Load() || entry.Revision <= m.lastRev.Load() {
		return
	}
	m.lastRev.Store(entry.Revision)

	if entry.Deleted {
		m.logger.Info("Stored options deleted, keeping current options", "revision", entry.Revision)
		return
	}

	doc, err := decodeOptionsDocument(entry.Value)
	if err != nil {
		m.logger.Error("Rejected options update", "revision", entry.Revision, "error", err)
		return
	}
	if err := m.adopt(doc.Options); err != nil {
		m.logger.Error("Rejected options update", "revision", entry.Revision, "error", err)
		return
	}

	m.logger.Info("Options updated from KV", "revision", entry.Revision)
	update := Update{Options: doc.Options, Revision: entry.Revision}

	// Latest wins: replace an undelivered update.
	for {
		select {
		case m.updates <- update:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

func decodeOptionsDocument(value []byte) (optionsDocument, error) {
	var doc optionsDocument
	if len(value) > maxOptionsDocSize {
		return doc, errors.WrapInvalid(fmt.Errorf("options document too large: %d bytes", len(value)),
			"Manager", "decode", "check size")
	}
	if err := checkStructure(formatJSON, value); err != nil {
		return doc, errors.WrapInvalid(err, "Manager", "decode", "check JSON structure")
	}
	if err := json.Unmarshal(value, &doc); err != nil {
		return doc, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Manager", "decode", "unmarshal options")
	}
	return doc, nil
}

// Stop ends the watch and closes the update channel.
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(m.updates)
	case <-time.After(timeout):
		m.logger.Warn("Manager shutdown timeout", "timeout", timeout)
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Manager", "Stop", "wait for watcher")
	}
	return nil
}
