// Package ixf reconciles the peering records of exchange LANs with the
// IX-F member exports their exchanges publish.
package ixf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ixf-sync/pkg/feed"
	"ixf-sync/pkg/lock"
	"ixf-sync/pkg/metrics"
	"ixf-sync/pkg/model"
	"ixf-sync/pkg/notify"
	"ixf-sync/pkg/store"
	"ixf-sync/pkg/watch"
)

var tracer = otel.Tracer("ixf-sync.ixf")

// Fetcher retrieves sanitized member exports.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (*feed.Document, error)
	FetchCached(ctx context.Context, url string) (*feed.Document, error)
}

// Importer runs imports against a store. Collaborators left nil fall back
// to no tickets, logged mail, an in-process lock and no change stream.
type Importer struct {
	Store    store.Store
	Fetcher  Fetcher
	Mailer   notify.Mailer
	Ticketer notify.Ticketer
	Fanout   watch.Fanout
	Locker   lock.Locker
	Settings Settings
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(st store.Store, f Fetcher, settings Settings) *Importer {
	return &Importer{Store: st, Fetcher: f, Settings: settings}
}

func (imp *Importer) logger() *slog.Logger {
	if imp.Logger == nil {
		return slog.Default()
	}
	return imp.Logger
}

func (imp *Importer) now() time.Time {
	if imp.Now != nil {
		return imp.Now()
	}
	return time.Now()
}

func (imp *Importer) mailer() notify.Mailer {
	if imp.Mailer == nil {
		return notify.LogMailer{Logger: imp.logger()}
	}
	return imp.Mailer
}

func (imp *Importer) fanout() watch.Fanout {
	if imp.Fanout == nil {
		return watch.Nop{}
	}
	return imp.Fanout
}

var defaultLocker = lock.NewLocal()

func (imp *Importer) locker() lock.Locker {
	if imp.Locker == nil {
		return defaultLocker
	}
	return imp.Locker
}

func (imp *Importer) ticketsEnabled() bool {
	return imp.Ticketer != nil && imp.Settings.Notify.TicketOnConflict
}

// Options controls a single run.
type Options struct {
	// Save persists the outcome. Without it the run is a preview whose
	// writes are rolled back and which sends nothing.
	Save bool
	// ASN limits the run to one network, 0 means all.
	ASN uint32
	// CacheOnly reads the export from the cache instead of downloading it.
	CacheOnly bool
	// SkipImport only fetches and validates the export.
	SkipImport bool
	// Data replaces the fetch with an already parsed document.
	Data *feed.Document
}

// Result is the outcome of one run.
type Result struct {
	RunID         string     `json:"runId"`
	ExchangeLANID uint       `json:"exchangeLanId"`
	Saved         bool       `json:"saved"`
	Success       bool       `json:"success"`
	Error         string     `json:"error,omitempty"`
	ImportLogID   uint       `json:"importLogId,omitempty"`
	Pending       int        `json:"pending"`
	Log           AttemptLog `json:"log"`
}

// Update runs one import of the exchange LAN.
func (imp *Importer) Update(ctx context.Context, lanID uint, opts Options) (*Result, error) {
	ctx, unlock, err := imp.locker().Lock(ctx, lock.LANKey(lanID))
	if err != nil {
		return nil, fmt.Errorf("lock exchange lan %d: %w", lanID, err)
	}
	defer unlock()

	mode := "preview"
	if opts.Save {
		mode = "save"
	}
	ctx, span := tracer.Start(ctx, "ixf.Update", trace.WithAttributes(
		attribute.Int("ixf.lan", int(lanID)),
		attribute.String("ixf.mode", mode),
	))
	defer span.End()
	started := time.Now()

	lan, ok, err := imp.Store.GetExchangeLAN(lanID)
	if err != nil {
		return nil, fmt.Errorf("get exchange lan %d: %w", lanID, err)
	}
	if !ok {
		return nil, fmt.Errorf("exchange lan %d: %w", lanID, store.ErrNotFound)
	}
	ix, ok, err := imp.Store.GetExchange(lan.ExchangeID)
	if err != nil {
		return nil, fmt.Errorf("get exchange %d: %w", lan.ExchangeID, err)
	}
	if !ok {
		return nil, fmt.Errorf("exchange %d: %w", lan.ExchangeID, store.ErrNotFound)
	}

	r := imp.newRun(ctx, lan, ix, opts)
	if opts.Save {
		err = r.execute()
	} else if doc, ferr := r.load(); ferr != nil {
		err = ferr
	} else {
		// the feed is already in hand, the transaction only spans the store work
		txErr := imp.Store.Transaction(func(tx store.Store) error {
			r.st = tx
			err = r.reconcile(doc)
			return errPreview
		})
		r.st = imp.Store
		if err == nil && txErr != nil && !errors.Is(txErr, errPreview) {
			err = txErr
		}
	}

	res := r.result()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.Runs.WithLabelValues(mode, outcome).Inc()
	metrics.RunDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	for _, entry := range res.Log.Data {
		metrics.Actions.WithLabelValues(entry.Action).Inc()
	}
	r.logger.Info("import finished", "mode", mode, "success", res.Success, "entries", len(res.Log.Data), "errors", len(res.Log.Errors))
	return res, err
}

// UpdateAll runs every LAN that is ready for import, a bounded number at a
// time. A failing LAN never stops the others.
func (imp *Importer) UpdateAll(ctx context.Context, opts Options) ([]*Result, error) {
	lans, err := imp.Store.ListExchangeLANs()
	if err != nil {
		return nil, fmt.Errorf("list exchange lans: %w", err)
	}
	var ready []model.ExchangeLAN
	for _, lan := range lans {
		if lan.ReadyForImport() {
			ready = append(ready, lan)
		}
	}
	workers := imp.Settings.Workers
	if workers < 1 {
		workers = 1
	}
	results := make([]*Result, len(ready))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, lan := range ready {
		g.Go(func() error {
			res, err := imp.Update(ctx, lan.ID, opts)
			if err != nil {
				imp.logger().Warn("import failed", "lan", lan.ID, "err", err)
				if res == nil {
					res = &Result{ExchangeLANID: lan.ID, Saved: opts.Save, Error: err.Error(), Log: newAttemptLog()}
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// run is the state of a single import of one exchange LAN.
type run struct {
	imp    *Importer
	ctx    context.Context
	st     store.Store
	lan    model.ExchangeLAN
	ix     model.Exchange
	opts   Options
	id     string
	start  time.Time
	logger *slog.Logger

	log        AttemptLog
	pending    []*entry
	deletions  []*entry
	live       map[model.Key]struct{}
	invalidIPs []string
	conflict   int // first protocol conflict seen, 0 for none
	resolved   map[uint]struct{}
	deferred   map[uint]bool // resolved proposal id -> deletion waits on its ticket
	actions    map[string][]appliedAction
	queue      []notification
	nets       map[uint32]*model.Network
	importLog  uint
	success    bool
}

func (imp *Importer) newRun(ctx context.Context, lan model.ExchangeLAN, ix model.Exchange, opts Options) *run {
	id := uuid.NewString()
	return &run{
		imp:      imp,
		ctx:      ctx,
		st:       imp.Store,
		lan:      lan,
		ix:       ix,
		opts:     opts,
		id:       id,
		start:    imp.now(),
		logger:   imp.logger().With("component", "ixf", "lan", lan.ID, "run", id),
		log:      newAttemptLog(),
		live:     map[model.Key]struct{}{},
		resolved: map[uint]struct{}{},
		deferred: map[uint]bool{},
		actions:  map[string][]appliedAction{},
		nets:     map[uint32]*model.Network{},
	}
}

func (r *run) now() time.Time { return r.imp.now() }

func (r *run) settings() Settings { return r.imp.Settings }

func (r *run) result() *Result {
	return &Result{
		RunID:         r.id,
		ExchangeLANID: r.lan.ID,
		Saved:         r.opts.Save,
		Success:       r.success,
		ImportLogID:   r.importLog,
		Pending:       len(r.pending),
		Log:           r.log,
	}
}

// inTx runs fn with r.st bound to a transaction. A preview run already
// sits in one and runs fn directly.
func (r *run) inTx(fn func() error) error {
	if !r.opts.Save {
		return fn()
	}
	base := r.st
	defer func() { r.st = base }()
	return base.Transaction(func(tx store.Store) error {
		r.st = tx
		return fn()
	})
}

func (r *run) execute() error {
	doc, err := r.load()
	if err != nil {
		return err
	}
	return r.reconcile(doc)
}

// load fetches the export and checks the LAN can take it. No store
// transaction is open while it runs.
func (r *run) load() (*feed.Document, error) {
	doc, err := r.fetch()
	if err != nil {
		metrics.FetchErrors.Inc()
		r.notifyError(err.Error())
		r.logError(err.Error(), true)
		return nil, fmt.Errorf("fetch ixf data: %w", err)
	}
	if len(r.lan.Prefixes) == 0 {
		r.logError(ErrNoPrefixes.Error(), true)
		return nil, ErrNoPrefixes
	}
	return doc, nil
}

// reconcile runs the passes over a fetched export.
func (r *run) reconcile(doc *feed.Document) error {
	if r.opts.SkipImport {
		r.success = true
		return nil
	}
	if err := r.checkVlans(doc); err != nil {
		r.notifyError(err.Error())
		r.logError(err.Error(), true)
		r.queue = nil
		return err
	}

	if err := r.inTx(func() error { return r.parse(doc) }); err != nil {
		return fmt.Errorf("parse ixf data: %w", err)
	}
	if r.opts.Save && (r.lan.ImportError != "" || r.lan.ImportErrorNotified != nil) {
		r.lan.ImportError = ""
		r.lan.ImportErrorNotified = nil
		if err := r.st.SaveExchangeLAN(&r.lan); err != nil {
			return fmt.Errorf("clear import error: %w", err)
		}
	}
	if err := r.inTx(r.processDeletions); err != nil {
		return fmt.Errorf("process deletions: %w", err)
	}
	if err := r.inTx(r.processSaves); err != nil {
		return fmt.Errorf("process saves: %w", err)
	}
	if r.opts.Save {
		if err := r.inTx(r.cleanup); err != nil {
			return fmt.Errorf("cleanup proposals: %w", err)
		}
	}
	if err := r.notifyStale(); err != nil {
		return fmt.Errorf("stale notifications: %w", err)
	}
	if r.opts.Save && r.settings().Stale.Enabled && r.lan.ReadyForImport() {
		if err := r.inTx(r.cleanupAged); err != nil {
			return fmt.Errorf("remove stale records: %w", err)
		}
	}
	if err := r.archive(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if len(r.invalidIPs) > 0 {
		r.notifyError(strings.Join(r.invalidIPs, "\n"))
	}
	if r.opts.Save {
		now := r.now()
		r.ix.IXFLastImport = &now
		r.ix.IXFNetCount = len(r.pending)
		if err := r.st.SaveExchange(&r.ix); err != nil {
			return fmt.Errorf("save exchange: %w", err)
		}
		if r.conflict == 0 && r.lan.ProtocolConflict != 0 {
			r.lan.ProtocolConflict = 0
			if err := r.st.SaveExchangeLAN(&r.lan); err != nil {
				return fmt.Errorf("clear protocol conflict: %w", err)
			}
		}
		r.saveLog()
		r.notifyProposals()
	}
	r.success = true
	return nil
}

func (r *run) fetch() (*feed.Document, error) {
	if r.opts.Data != nil {
		raw, err := json.Marshal(r.opts.Data)
		if err != nil {
			return nil, err
		}
		doc, err := feed.Parse(raw)
		if err != nil {
			return nil, feed.ErrInvalidJSON
		}
		if err := feed.Sanitize(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if r.imp.Fetcher == nil {
		return nil, feed.ErrNoURL
	}
	if r.opts.CacheOnly {
		return r.imp.Fetcher.FetchCached(r.ctx, r.lan.IXFURL)
	}
	return r.imp.Fetcher.Fetch(r.ctx, r.lan.IXFURL, r.settings().FetchTimeout)
}
