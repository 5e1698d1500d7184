package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/bdsync/internal/audit"
	"github.com/steveyegge/bdsync/internal/backup"
	"github.com/steveyegge/bdsync/internal/config"
	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/storage/filestore"
	"github.com/steveyegge/bdsync/internal/telemetry"
	"github.com/steveyegge/bdsync/internal/tracker"
)

func openStore() (storage.Store, error) {
	fs, err := filestore.Open(config.ResolvePath(config.GetString("store.dir")))
	if err != nil {
		return nil, failure(fmt.Errorf("opening record store: %w", err))
	}
	return telemetry.WrapStore(fs), nil
}

func openBackups() (*backup.Manager, error) {
	m, err := backup.NewManager(config.ResolvePath(config.GetString("backup.dir")))
	if err != nil {
		return nil, failure(err)
	}
	return m, nil
}

// openSyncLog opens the sync log: the SQLite index (queried first) and the
// rotating JSONL file. Either can be disabled by setting its path to "".
// Index rows older than audit.max_age_days are pruned on open, matching the
// age limit lumberjack applies to rotated JSONL files.
func openSyncLog() (audit.Sink, error) {
	var sinks audit.Multi
	if path := config.GetString("audit.index"); path != "" {
		s, err := audit.NewSQLite(config.ResolvePath(path))
		if err != nil {
			return nil, failure(err)
		}
		pruneSyncIndex(s, config.GetInt("audit.max_age_days"), time.Now())
		sinks = append(sinks, s)
	}
	if path := config.GetString("audit.file"); path != "" {
		rot := audit.DefaultRotation()
		if n := config.GetInt("audit.max_size_mb"); n > 0 {
			rot.MaxSizeMB = n
		}
		if n := config.GetInt("audit.max_backups"); n > 0 {
			rot.MaxBackups = n
		}
		if n := config.GetInt("audit.max_age_days"); n > 0 {
			rot.MaxAgeDays = n
		}
		s, err := audit.NewJSONL(config.ResolvePath(path), rot)
		if err != nil {
			_ = sinks.Close()
			return nil, failure(err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, usageError("no sync log configured: set audit.index or audit.file")
	}
	return sinks, nil
}

// pruneSyncIndex drops index rows older than maxAgeDays. A failed prune is
// logged and otherwise ignored; it never blocks a sync.
func pruneSyncIndex(s *audit.SQLiteSink, maxAgeDays int, now time.Time) {
	if maxAgeDays <= 0 {
		return
	}
	n, err := s.Prune(context.Background(), now.AddDate(0, 0, -maxAgeDays))
	if err != nil {
		slog.Warn("pruning sync log index", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("pruned sync log index", "entries", n, "max_age_days", maxAgeDays)
	}
}

// deps bundles what a sync run needs. close releases the sync log.
type deps struct {
	store   storage.Store
	backups *backup.Manager
	log     audit.Sink
	engine  *tracker.Engine
}

func (d *deps) close() {
	if d.log != nil {
		_ = d.log.Close()
	}
}

// newEngine wires the record store, remotes, backups and sync log into an
// engine. Config problems are usage errors; I/O problems are failures.
func newEngine() (*deps, error) {
	cfg, err := config.LoadSyncConfig()
	if err != nil {
		return nil, usageError("%v", err)
	}
	remotes, err := tracker.NewRemotes(config.GetRemotes(), config.Source())
	if err != nil {
		return nil, usageError("%v", err)
	}

	d := &deps{}
	if d.store, err = openStore(); err != nil {
		return nil, err
	}
	if d.backups, err = openBackups(); err != nil {
		return nil, err
	}
	if d.log, err = openSyncLog(); err != nil {
		return nil, err
	}

	d.engine, err = tracker.NewEngine(cfg, d.store, remotes, d.backups, d.log)
	if err != nil {
		d.close()
		return nil, usageError("%v", err)
	}
	d.engine.Logger = logger
	if !quietFlag && !jsonOutput {
		d.engine.OnMessage = func(msg string) { logger.Info(msg) }
	}
	d.engine.OnWarning = func(msg string) { logger.Warn(msg) }
	return d, nil
}
