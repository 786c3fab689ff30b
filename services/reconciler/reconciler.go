package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spacegate/core/types"
	"spacegate/native/creator"
	"spacegate/observability/metrics"
	"spacegate/services/keyholder"
)

// SpaceReport counts the registered subscriptions of one space.
type SpaceReport struct {
	SpaceID types.ObjectID
	Live    int
	Lapsed  int
}

// Report is the outcome of one pass.
type Report struct {
	Height     uint64
	Spaces     []SpaceReport
	Cumulative uint64
}

// Pass counts live and lapsed subscriptions per space in r at now. The
// registry's own counter only ever grows; this is the live view of it.
func Pass(r creator.StateReader, now types.Timestamp) (*Report, error) {
	ids, err := r.SpaceList()
	if err != nil {
		return nil, fmt.Errorf("reconciler: list spaces: %w", err)
	}
	totals, err := r.CreatorTotals()
	if err != nil {
		return nil, fmt.Errorf("reconciler: totals: %w", err)
	}
	report := &Report{Cumulative: totals.ActiveSubscriptions}
	for _, id := range ids {
		space, ok, err := r.SpaceGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		subscribers, err := r.SpaceSubscribers(id)
		if err != nil {
			return nil, err
		}
		entry := SpaceReport{SpaceID: id}
		for _, subscriber := range subscribers {
			sub, err := creator.LookupSubscription(r, id, subscriber)
			if err != nil {
				return nil, err
			}
			switch err := creator.CheckSubscriber(space, sub, subscriber, now); {
			case err == nil:
				entry.Live++
			case errors.Is(err, creator.ErrLapsed):
				entry.Lapsed++
			default:
				return nil, fmt.Errorf("reconciler: space %s subscriber %s: %w", id, subscriber, err)
			}
		}
		report.Spaces = append(report.Spaces, entry)
	}
	return report, nil
}

// Reconciler runs Pass on an interval and publishes the result as gauges.
type Reconciler struct {
	view     keyholder.ChainView
	interval time.Duration
	metrics  *metrics.SubscriptionMetrics
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last *Report
}

// Option customises the reconciler instance.
type Option func(*Reconciler)

// WithClock sets the function used to evaluate expiry.
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) { r.now = clock }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func New(view keyholder.ChainView, interval time.Duration, opts ...Option) *Reconciler {
	r := &Reconciler{
		view:     view,
		interval: interval,
		metrics:  metrics.Subscriptions(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	r.logger = r.logger.With("component", "reconciler")
	return r
}

// Reconcile runs one pass against the latest snapshot.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	report, err := r.reconcile(ctx)
	r.metrics.ObservePass(err)
	if err != nil {
		return nil, err
	}
	for _, space := range report.Spaces {
		r.metrics.SetSpace(space.SpaceID.String(), space.Live, space.Lapsed)
	}
	r.metrics.SetCumulative(report.Cumulative)
	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context) (*Report, error) {
	snap, err := r.view.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	report, err := Pass(snap.State, types.Timestamp(r.now().UnixMilli()))
	if err != nil {
		return nil, err
	}
	report.Height = snap.Height
	return report, nil
}

// Last returns the most recent successful report.
func (r *Reconciler) Last() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run reconciles until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if report, err := r.Reconcile(ctx); err != nil {
			r.logger.Warn("reconciliation failed", "error", err)
		} else {
			r.logger.Debug("reconciled", "height", report.Height, "spaces", len(report.Spaces))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
