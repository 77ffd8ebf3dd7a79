// Package sender runs outbound Telegram calls that nobody waits on, such as
// backend push notifications, on a bounded worker pool with retries.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/youpin-city/mafueng-bot/core/logger"
	"github.com/youpin-city/mafueng-bot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

const component = "tg.sender"

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls the behaviour of the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single job.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 30 * time.Second
	}
	return o
}

// Job is one outbound call. Run must be safe to repeat when retries are enabled.
type Job struct {
	Action   string
	Endpoint string
	UserID   string
	Run      func(ctx context.Context) error
}

type queued struct {
	ctx context.Context
	job Job
}

// Dispatcher executes jobs asynchronously.
type Dispatcher struct {
	opts  Options
	jobs  chan queued
	mu    sync.RWMutex
	done  bool
	wg    sync.WaitGroup
	sent  atomic.Uint64
	fails atomic.Uint64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher starts the workers. Zero options get defaults.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts:  opts,
		jobs:  make(chan queued, opts.QueueSize),
		sleep: sleepCtx,
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules a job without blocking. The context is kept for logging
// and cancellation but its deadline is replaced by MaxDuration.
func (d *Dispatcher) Enqueue(ctx context.Context, j Job) error {
	if j.Run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.done {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- queued{ctx: context.WithoutCancel(ctx), job: j}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats returns the number of delivered and failed jobs.
func (d *Dispatcher) Stats() (sent, failed uint64) {
	return d.sent.Load(), d.fails.Load()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.done = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for q := range d.jobs {
		d.handle(q.ctx, q.job)
	}
}

func (d *Dispatcher) handle(ctx context.Context, j Job) {
	runCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = j.Run(runCtx); err == nil {
			d.sent.Add(1)
			attrs := append(jobAttrs(j), slog.Int("attempt", attempt), slog.Duration("duration", logger.RoundMS(time.Since(start))))
			logger.Debug(ctx, component, "send.success", attrs...)
			return
		}
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}
		delay := netutil.RetryAfter(err)
		if delay <= 0 {
			delay = d.opts.RetryBackoff * time.Duration(attempt)
		}
		logger.Debug(ctx, component, "send.retry.backoff",
			append(jobAttrs(j), slog.Int("attempt", attempt), slog.Duration("delay", delay))...)
		if serr := d.sleep(runCtx, delay); serr != nil {
			err = serr
			break
		}
	}

	d.fails.Add(1)
	logger.Error(ctx, component, "send.fail",
		append(jobAttrs(j),
			slog.String("status", "fail"),
			slog.String("err", SanitizeError(err)),
			slog.String("error_kind", classifyError(err)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)...)
}

func jobAttrs(j Job) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.Action)}
	if j.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.Endpoint))
	}
	if j.UserID != "" {
		attrs = append(attrs, slog.String("sender_id", j.UserID))
	}
	return attrs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case netutil.RetryAfter(err) > 0:
		return "flood"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "timeout"
		}
		return opErr.Op
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return "http_5xx"
		}
		return "http_4xx"
	}
	return "unknown"
}

// SanitizeError renders err with any bot token redacted.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
