// Package retry wraps fallible operations with classified exponential
// backoff. Remote rate limits (429 with Retry-After) override the
// computed delay; non-transient failures stop immediately.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls the backoff schedule.
type Config struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.3,
	}
}

// Result reports the outcome of a retried operation.
type Result struct {
	Success    bool
	Attempts   int
	TotalDelay time.Duration
	Err        error
}

// Decision is a classifier's verdict on an error.
type Decision int

// Classifier verdicts. Unknown defers to the other classifiers.
const (
	Unknown Decision = iota
	Retry
	Stop
)

// Classifier inspects an error and decides whether to retry. A caller
// classifier composes with the default: retry when either says so, but a
// definite Stop from the caller wins.
type Classifier func(error) Decision

// statusCoder is implemented by errors that carry a remote HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterer is implemented by errors that carry a remote Retry-After
// hint; the hint replaces the computed delay.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// retryableMarker is the explicit retryable marker interface.
type retryableMarker interface {
	Retryable() bool
}

type markedError struct {
	err error
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Retryable() bool { return true }

// MarkRetryable wraps err so the default classifier treats it as
// transient regardless of its type.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err}
}

// DefaultClassify is the built-in transient classification: remote 429
// and 5xx, network errors, timeouts, and explicitly marked errors retry;
// other remote statuses stop; anything else stops.
func DefaultClassify(err error) Decision {
	var marker retryableMarker
	if errors.As(err, &marker) && marker.Retryable() {
		return Retry
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		switch {
		case status == 429:
			return Retry
		case status >= 500 && status <= 599:
			return Retry
		default:
			return Stop
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Retry
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retry
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Retry
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Retry
	}
	return Stop
}

// policy computes delay = min(max, base * 2^i * (1 + (rand-0.5) * jitter))
// for 0-based attempt index i. A pending Retry-After hint replaces the
// computed value, still capped at max.
type policy struct {
	cfg        Config
	attempt    int
	retryAfter time.Duration
	total      *time.Duration
}

func (p *policy) NextBackOff() time.Duration {
	var delay time.Duration
	if p.retryAfter > 0 {
		delay = p.retryAfter
		p.retryAfter = 0
	} else {
		jitter := 1 + (rand.Float64()-0.5)*p.cfg.JitterFactor
		delay = time.Duration(float64(p.cfg.BaseDelay) * float64(uint64(1)<<uint(p.attempt)) * jitter)
	}
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	p.attempt++
	*p.total += delay
	return delay
}

func (p *policy) Reset() {
	p.attempt = 0
}

// Do runs op with retries per cfg. An optional classifier composes with
// DefaultClassify. The context cancels waits between attempts.
func Do(ctx context.Context, cfg Config, op func() error, classify Classifier) Result {
	var res Result
	p := &policy{cfg: cfg, total: &res.TotalDelay}

	wrapped := func() error {
		res.Attempts++
		err := op()
		if err == nil {
			res.Err = nil
			return nil
		}
		res.Err = err
		if !shouldRetry(err, classify) {
			return backoff.Permanent(err)
		}
		var ra retryAfterer
		if errors.As(err, &ra) {
			p.retryAfter = ra.RetryAfter()
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(p, uint64(cfg.MaxRetries)), ctx)
	err := backoff.Retry(wrapped, bo)
	res.Success = err == nil
	if err != nil && res.Err == nil {
		res.Err = err
	}
	return res
}

// DoValue runs op with retries and returns its value on success.
func DoValue[T any](ctx context.Context, cfg Config, op func() (T, error), classify Classifier) (T, Result) {
	var value T
	res := Do(ctx, cfg, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		value = v
		return nil
	}, classify)
	return value, res
}

func shouldRetry(err error, classify Classifier) bool {
	if classify != nil {
		switch classify(err) {
		case Retry:
			return true
		case Stop:
			return false
		}
	}
	return DefaultClassify(err) == Retry
}
