package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"ixf-sync/pkg/config"
	"ixf-sync/pkg/db"
	"ixf-sync/pkg/feed"
	"ixf-sync/pkg/ixf"
	"ixf-sync/pkg/lock"
	"ixf-sync/pkg/logging"
	"ixf-sync/pkg/notify"
	"ixf-sync/pkg/seed"
	"ixf-sync/pkg/store"
	"ixf-sync/pkg/watch"
)

// app is the wired importer with everything it needs.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Store
	importer *ixf.Importer
	hub      *watch.Hub
	closers  []func() error
}

// newApp loads the configuration and wires the store, the fetcher and the
// notification backends. Diagnostics go to errOut.
func newApp(opts *RootOptions, errOut io.Writer) (*app, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if opts.SeedPath != "" {
		if _, err := a.seed(opts.SeedPath); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) wire() error {
	switch a.cfg.Store {
	case "sql":
		gdb, err := openDB(a.cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		a.store = store.NewSQLStore(gdb)
	default:
		a.logger.Warn("using the memory store, nothing is persisted")
		a.store = store.NewMemory()
	}

	cache, err := a.cache()
	if err != nil {
		return err
	}
	fetcher := feed.NewFetcher(cache, a.cfg.Import.RateLimit, a.cfg.Import.Burst, a.logger)

	imp := ixf.New(a.store, fetcher, a.cfg.Settings())
	imp.Logger = a.logger
	imp.Mailer = a.mailer()
	if t := a.ticketer(); t != nil {
		imp.Ticketer = t
	}
	locker, err := a.locker()
	if err != nil {
		return err
	}
	imp.Locker = locker
	a.hub = watch.NewHub(a.logger)
	imp.Fanout = a.hub
	a.importer = imp
	return nil
}

func openDB(cfg db.Config) (*gorm.DB, error) {
	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func (a *app) cache() (feed.Cache, error) {
	c := a.cfg.Import
	switch c.Cache {
	case "file":
		if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
		return feed.NewFileCache(c.CacheDir), nil
	case "redis":
		rc, err := feed.NewRedisCache(c.RedisURL, "ixf:export:", c.Timeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		return rc, nil
	default:
		return feed.NewMemoryCache(), nil
	}
}

func (a *app) mailer() notify.Mailer {
	s := a.cfg.Notify.SMTP
	if s.Addr == "" {
		return notify.LogMailer{Logger: a.logger}
	}
	return &notify.SMTPMailer{Addr: s.Addr, User: s.User, Pass: s.Pass, From: a.cfg.Notify.From}
}

// ticketer is nil without a helpdesk, which turns conflict tickets off.
func (a *app) ticketer() notify.Ticketer {
	h := a.cfg.Notify.Helpdesk
	if h.URL == "" {
		if a.cfg.Notify.Tickets {
			a.logger.Info("no helpdesk configured, conflict tickets disabled")
		}
		return nil
	}
	return notify.NewHTTPTicketer(h.URL, h.Key, h.Timeout)
}

func (a *app) locker() (lock.Locker, error) {
	if a.cfg.Lock.Backend != "consul" {
		return lock.NewLocal(), nil
	}
	l, err := lock.NewConsul(a.cfg.Lock.ConsulAddr, a.cfg.Lock.TTL)
	if err != nil {
		return nil, fmt.Errorf("consul lock: %w", err)
	}
	return l, nil
}

func (a *app) seed(path string) (seed.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return seed.Summary{}, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	fx, err := seed.Load(f)
	if err != nil {
		return seed.Summary{}, err
	}
	sum, err := seed.Apply(a.store, fx)
	if err != nil {
		return sum, fmt.Errorf("apply seed %s: %w", path, err)
	}
	a.logger.Info("seed applied", "path", path, "networks", sum.Networks, "lans", sum.LANs, "records", sum.Records)
	return sum, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
