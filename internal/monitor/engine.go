package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/web3-frozen/portfolio-reporter/internal/metrics"
	"github.com/web3-frozen/portfolio-reporter/internal/store"
)

const (
	fetchTimeout = 3 * time.Minute
	claimTTL     = 36 * time.Hour
)

// Stages at which a source can fail.
const (
	StageFetch = "fetch"
	StageSend  = "send"
)

// NotifyFunc delivers a rendered report to the configured chat.
type NotifyFunc func(ctx context.Context, message string) error

// History persists delivered reports. Implemented by *store.Store.
type History interface {
	SaveReport(ctx context.Context, r store.Report) error
	LatestReport(ctx context.Context, source string) (*store.Report, error)
}

// Deduper guards a report slot against double delivery. Implemented by
// *dedup.Deduplicator.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Schedule configures the daemon loop.
type Schedule struct {
	PollInterval time.Duration
	ReportHour   int
	Location     *time.Location
}

// SourceError records where a single source failed.
type SourceError struct {
	Source string
	Stage  string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RunError collects the per-source failures of one run.
type RunError struct {
	Errors []*SourceError
}

func (e *RunError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		msgs[i] = se.Error()
	}
	return strings.Join(msgs, "; ")
}

// Failed reports whether any source failed at stage.
func (e *RunError) Failed(stage string) bool {
	for _, se := range e.Errors {
		if se.Stage == stage {
			return true
		}
	}
	return false
}

// Engine fetches snapshots from registered sources, renders them and hands
// the result to the notifier.
type Engine struct {
	history  History
	logger   *slog.Logger
	notify   NotifyFunc
	dedup    Deduper
	sources  []Source
	lastSnap map[string]*Snapshot
	mu       sync.RWMutex
}

// NewEngine builds an engine. history and dd may be nil.
func NewEngine(history History, logger *slog.Logger, notify NotifyFunc, dd Deduper) *Engine {
	return &Engine{
		history:  history,
		logger:   logger,
		notify:   notify,
		dedup:    dd,
		lastSnap: make(map[string]*Snapshot),
	}
}

// Register adds a data source to the engine. Reports run in registration order.
func (e *Engine) Register(src Source) {
	e.sources = append(e.sources, src)
	e.logger.Info("registered source", "source", src.Name())
}

// SourceNames returns names of all registered sources.
func (e *Engine) SourceNames() []string {
	names := make([]string, 0, len(e.sources))
	for _, s := range e.sources {
		names = append(names, s.Name())
	}
	return names
}

// SourceURLs maps each registered source to its public dashboard link.
func (e *Engine) SourceURLs() map[string]string {
	urls := make(map[string]string, len(e.sources))
	for _, s := range e.sources {
		urls[s.Name()] = s.URL()
	}
	return urls
}

// GetSnapshot returns the latest cached snapshot for a source.
func (e *Engine) GetSnapshot(source string) *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSnap[source]
}

// RunOnce fetches and sends every registered report once. It returns a
// *RunError when any source failed.
func (e *Engine) RunOnce(ctx context.Context) error {
	return e.runReports(ctx, "")
}

// SendReport fetches and sends a single named report on demand.
func (e *Engine) SendReport(ctx context.Context, name string) error {
	for _, src := range e.sources {
		if src.Name() == name {
			return e.report(ctx, src, "")
		}
	}
	return fmt.Errorf("unknown source %q", name)
}

// Preview fetches and renders every report without sending it.
func (e *Engine) Preview(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(e.sources))
	runErr := &RunError{}
	for _, src := range e.sources {
		snap, err := e.fetch(ctx, src)
		if err != nil {
			runErr.Errors = append(runErr.Errors, &SourceError{Source: src.Name(), Stage: StageFetch, Err: err})
			continue
		}
		out[src.Name()] = src.FormatReport(snap, e.previous(ctx, src.Name()))
	}
	if len(runErr.Errors) > 0 {
		return out, runErr
	}
	return out, nil
}

// Run starts the snapshot refresh loop and the daily report scheduler.
func (e *Engine) Run(ctx context.Context, sched Schedule) {
	e.refreshAll(ctx)

	pollTicker := time.NewTicker(sched.PollInterval)
	defer pollTicker.Stop()

	reportTimer, slot := e.nextReportTimer(sched, time.Now())
	defer reportTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			e.refreshAll(ctx)
		case <-reportTimer.C:
			if err := e.runReports(ctx, slot); err != nil {
				e.logger.Error("scheduled reports failed", "error", err)
			}
			reportTimer, slot = e.nextReportTimer(sched, time.Now())
		}
	}
}

func (e *Engine) runReports(ctx context.Context, slot string) error {
	runErr := &RunError{}
	for _, src := range e.sources {
		key := ""
		if slot != "" {
			key = "report:" + src.Name() + ":" + slot
		}
		if err := e.report(ctx, src, key); err != nil {
			var se *SourceError
			if !errors.As(err, &se) {
				se = &SourceError{Source: src.Name(), Stage: StageSend, Err: err}
			}
			runErr.Errors = append(runErr.Errors, se)
		}
	}
	if len(runErr.Errors) > 0 {
		return runErr
	}
	return nil
}

func (e *Engine) report(ctx context.Context, src Source, dedupKey string) error {
	name := src.Name()
	snap, err := e.fetch(ctx, src)
	if err != nil {
		e.logger.Error("fetch snapshot failed", "source", name, "error", err)
		return &SourceError{Source: name, Stage: StageFetch, Err: err}
	}

	msg := src.FormatReport(snap, e.previous(ctx, name))

	if dedupKey != "" && e.dedup != nil {
		won, err := e.dedup.Claim(ctx, dedupKey, claimTTL)
		switch {
		case err != nil:
			e.logger.Warn("dedup claim failed, sending anyway", "key", dedupKey, "error", err)
		case !won:
			e.logger.Info("report already sent for slot", "source", name, "key", dedupKey)
			metrics.ReportsDeduplicatedTotal.WithLabelValues(name).Inc()
			return nil
		}
	}

	sendErr := e.notify(ctx, msg)
	if sendErr != nil {
		metrics.ReportsFailedTotal.WithLabelValues(name).Inc()
		e.logger.Error("send report failed", "source", name, "error", sendErr)
		if dedupKey != "" && e.dedup != nil {
			if err := e.dedup.Release(ctx, dedupKey); err != nil {
				e.logger.Warn("dedup release failed", "key", dedupKey, "error", err)
			}
		}
	} else {
		metrics.ReportsSentTotal.WithLabelValues(name).Inc()
		e.logger.Info("report sent", "source", name)
	}

	e.record(ctx, snap, msg, sendErr == nil)

	if sendErr != nil {
		return &SourceError{Source: name, Stage: StageSend, Err: sendErr}
	}
	return nil
}

func (e *Engine) refreshAll(ctx context.Context) {
	for _, src := range e.sources {
		if _, err := e.fetch(ctx, src); err != nil {
			e.logger.Error("fetch snapshot failed", "source", src.Name(), "error", err)
		}
	}
}

func (e *Engine) fetch(ctx context.Context, src Source) (*Snapshot, error) {
	name := src.Name()
	start := time.Now()
	snap, err := fetchWithTimeout(ctx, src.FetchSnapshot, fetchTimeout)
	metrics.FetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues(name, "error").Inc()
		return nil, err
	}
	metrics.FetchTotal.WithLabelValues(name, "ok").Inc()
	metrics.FetchLastSuccess.WithLabelValues(name).SetToCurrentTime()
	for metric, v := range snap.Metrics {
		metrics.MetricValue.WithLabelValues(name, metric).Set(v)
	}

	e.mu.Lock()
	e.lastSnap[name] = snap
	e.mu.Unlock()

	e.logger.Info("snapshot", "source", name, "metrics", snap.Metrics)
	return snap, nil
}

func (e *Engine) previous(ctx context.Context, source string) *Snapshot {
	if e.history == nil {
		return nil
	}
	r, err := e.history.LatestReport(ctx, source)
	if err != nil {
		e.logger.Warn("load previous report failed", "source", source, "error", err)
		return nil
	}
	if r == nil {
		return nil
	}
	return &Snapshot{Source: r.Source, Metrics: r.Metrics, FetchedAt: r.CreatedAt}
}

func (e *Engine) record(ctx context.Context, snap *Snapshot, msg string, sent bool) {
	if e.history == nil {
		return
	}
	err := e.history.SaveReport(ctx, store.Report{
		Source:  snap.Source,
		Metrics: snap.Metrics,
		Message: msg,
		Sent:    sent,
	})
	if err != nil {
		e.logger.Warn("save report failed", "source", snap.Source, "error", err)
	}
}

// nextReportTimer returns a timer firing at the next report hour and the
// date slot (YYYY-MM-DD in the schedule's location) it belongs to.
func (e *Engine) nextReportTimer(sched Schedule, now time.Time) (*time.Timer, string) {
	next := nextReportTime(sched, now)
	duration := next.Sub(now)
	e.logger.Info("next scheduled report", "at", next.Format(time.RFC3339), "in", duration.Round(time.Minute))
	return time.NewTimer(duration), next.Format("2006-01-02")
}

func nextReportTime(sched Schedule, now time.Time) time.Time {
	loc := sched.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), sched.ReportHour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type fetchResult struct {
	snap *Snapshot
	err  error
}

// fetchWithTimeout bounds fn by timeout. fn receives the derived context and
// is abandoned if it ignores cancellation past the deadline.
func fetchWithTimeout(ctx context.Context, fn func(context.Context) (*Snapshot, error), timeout time.Duration) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		snap, err := fn(ctx)
		ch <- fetchResult{snap, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.snap == nil {
			return nil, fmt.Errorf("empty snapshot")
		}
		return r.snap, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch timed out after %s: %w", timeout, ctx.Err())
	}
}
