package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Per-source scan scheduling.
 *
 * Description:	Each configured source gets a reader goroutine and a
 *		cadence ticker.  The reader keeps a rolling buffer of the
 *		most recent capture; on every tick a scan of a snapshot of
 *		that buffer is kicked off, unless the previous scan for the
 *		same source is still running, in which case the tick is
 *		skipped and counted.  Scans never queue up: a decoder that
 *		cannot keep up loses windows, it does not fall further and
 *		further behind real time.
 *
 *		A failing source is paused and reopened with exponential
 *		backoff.  It never takes the other sources down with it.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
)

const (
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second
)

// CandidateHandler receives decoded messages.  For a given source it is
// called from a single goroutine at a time, in capture order.
type CandidateHandler func(source string, c DecodedCandidate)

// windowScanner is what the scheduler needs from a demodulator.
type windowScanner interface {
	Scan(ctx context.Context, samples []int16, windowStart time.Time) ([]DecodedCandidate, error)
}

// SchedulerConfig carries the scan cadence knobs.  Values are assumed to
// have passed Config.Validate, in particular Buffer >= MinBufferDuration
// and Interval <= Buffer.
type SchedulerConfig struct {
	Interval        time.Duration
	Budget          time.Duration
	Buffer          time.Duration
	ConfidenceFloor float64
	DedupeWindow    time.Duration
}

// Scheduler drives scans over a set of sources.
type Scheduler struct {
	cfg     SchedulerConfig
	clock   clockwork.Clock
	logger  *log.Logger
	metrics *Metrics
	handler CandidateHandler
	sources []Source
}

func NewScheduler(cfg SchedulerConfig, sources []Source, handler CandidateHandler,
	logger *log.Logger, metrics *Metrics, clock clockwork.Clock) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		handler: handler,
		sources: sources,
	}
}

// Run blocks until ctx is cancelled or every source has ended.  A source
// ends on io.EOF (a replayed file ran out); live sources run until
// cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.sources) == 0 {
		s.logger.Warn("no sources configured, nothing to scan")
		return nil
	}

	var wg sync.WaitGroup
	for _, src := range s.sources {
		var logger = s.logger.With("source", src.Name())
		var w = &sourceWorker{
			src:     src,
			cfg:     s.cfg,
			clock:   s.clock,
			logger:  logger,
			metrics: s.metrics,
			handler: s.handler,
			newScanner: func(rate int) windowScanner {
				return NewDemodulator(DemodConfig{
					SampleRate:      rate,
					ConfidenceFloor: s.cfg.ConfidenceFloor,
					DedupeWindow:    s.cfg.DedupeWindow,
				}, logger, s.metrics)
			},
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

type sourceWorker struct {
	src        Source
	cfg        SchedulerConfig
	clock      clockwork.Clock
	logger     *log.Logger
	metrics    *Metrics
	handler    CandidateHandler
	newScanner func(rate int) windowScanner

	mu         sync.Mutex
	buf        []int16 // mono, most recent bufSamples
	bufEnd     time.Time
	rate       int
	bufSamples int
	demod      windowScanner

	busy  atomic.Bool
	scans sync.WaitGroup
}

func (w *sourceWorker) run(ctx context.Context) {
	var ended = make(chan struct{})
	go w.read(ctx, ended)

	var ticker = w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Join the reader before returning; it owns the source
			// handle, and the worker must not report "stopped" while
			// a goroutine still holds it.
			<-ended
			w.scans.Wait()
			w.release()
			return
		case <-ended:
			// Drain what the reader left behind before stopping, so
			// a message at the very end of a replayed file is not
			// lost to cadence.
			w.scans.Wait()
			if w.busy.CompareAndSwap(false, true) {
				w.scan(ctx)
			}
			w.release()
			return
		case <-ticker.Chan():
			if !w.busy.CompareAndSwap(false, true) {
				w.logger.Debug("scan still running, skipping tick")
				if w.metrics != nil {
					w.metrics.ScanOverruns.WithLabelValues(w.src.Name()).Inc()
				}
				continue
			}
			w.scans.Add(1)
			go func() {
				defer w.scans.Done()
				w.scan(ctx)
			}()
		}
	}
}

/*
 * Capture side.
 */

// read owns the source lifecycle: open, pull blocks into the rolling
// buffer, and on failure close and reopen with backoff.  ended is closed
// when the source is done for good.
func (w *sourceWorker) read(ctx context.Context, ended chan<- struct{}) {
	defer close(ended)

	var backoff = backoffInitial
	for ctx.Err() == nil {
		var openErr = w.src.Open()
		if openErr != nil {
			w.logger.Warn("source open failed", "err", openErr, "retry_in", backoff)
			if !w.pause(ctx, backoff) {
				return
			}
			backoff = minDuration(backoff*2, backoffMax)
			continue
		}
		backoff = backoffInitial
		w.prepare()

		var readErr = w.readBlocks(ctx)
		w.src.Close()
		switch {
		case errors.Is(readErr, io.EOF):
			w.logger.Info("source ended")
			return
		case ctx.Err() != nil:
			return
		default:
			if w.metrics != nil {
				w.metrics.SourceReadFailures.WithLabelValues(w.src.Name()).Inc()
			}
			w.logger.Warn("source read failed", "err", readErr, "retry_in", backoff)
			if !w.pause(ctx, backoff) {
				return
			}
			backoff = minDuration(backoff*2, backoffMax)
		}
	}
}

// prepare sizes the buffer for the rate the source actually opened at and
// builds the demodulator.  Dedupe state survives a reopen at the same
// rate, so a source that flaps mid-message does not double report.
func (w *sourceWorker) prepare() {
	var rate = w.src.SampleRate()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.demod != nil && rate == w.rate {
		return
	}
	w.rate = rate
	w.bufSamples = int(w.cfg.Buffer.Seconds() * float64(rate))
	w.buf = w.buf[:0]
	w.demod = w.newScanner(rate)
}

func (w *sourceWorker) readBlocks(ctx context.Context) error {
	var channels = w.src.Channels()
	if channels < 1 {
		channels = 1
	}
	var block = make([]int16, (w.src.SampleRate()/10)*channels)

	for {
		var n, readErr = w.src.ReadBlock(ctx, block)
		if n > 0 {
			w.appendSamples(Downmix(block[:n-n%channels], channels))
		}
		if readErr != nil {
			return readErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *sourceWorker) appendSamples(mono []int16) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, mono...)
	if excess := len(w.buf) - w.bufSamples; excess > 0 {
		copy(w.buf, w.buf[excess:])
		w.buf = w.buf[:w.bufSamples]
	}
	w.bufEnd = w.clock.Now()
}

// release drops the rolling buffer once the reader and all scans are done.
func (w *sourceWorker) release() {
	w.mu.Lock()
	w.buf = nil
	w.bufSamples = 0
	w.mu.Unlock()
}

func (w *sourceWorker) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-w.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

/*
 * Scan side.
 */

// scan runs one demodulation pass over a snapshot of the buffer.  The
// caller has already won the busy flag; it is released only after the
// handler has seen every candidate, which is what keeps per-source
// delivery ordered.
func (w *sourceWorker) scan(ctx context.Context) {
	defer w.busy.Store(false)

	var samples, windowStart, demod = w.snapshot()
	if len(samples) == 0 || demod == nil {
		return
	}
	if w.metrics != nil {
		w.metrics.ScansRun.WithLabelValues(w.src.Name()).Inc()
	}

	var sctx, cancel = clockwork.WithTimeout(ctx, w.clock, w.cfg.Budget)
	defer cancel()

	var began = w.clock.Now()
	var candidates, scanErr = demod.Scan(sctx, samples, windowStart)
	if w.metrics != nil {
		w.metrics.ScanDuration.Observe(w.clock.Since(began).Seconds())
	}
	if scanErr != nil {
		if errors.Is(scanErr, context.DeadlineExceeded) {
			w.logger.Warn("scan exceeded budget", "budget", w.cfg.Budget)
			if w.metrics != nil {
				w.metrics.ScanTimeouts.WithLabelValues(w.src.Name()).Inc()
			}
		}
		return
	}

	if w.handler == nil {
		return
	}
	for _, c := range candidates {
		w.handler(w.src.Name(), c)
	}
}

func (w *sourceWorker) snapshot() ([]int16, time.Time, windowScanner) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) == 0 || w.rate == 0 {
		return nil, time.Time{}, w.demod
	}
	var cp = make([]int16, len(w.buf))
	copy(cp, w.buf)
	var start = w.bufEnd.Add(-time.Duration(len(cp)) * time.Second / time.Duration(w.rate))
	return cp, start, w.demod
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
