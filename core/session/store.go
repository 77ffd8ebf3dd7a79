// Package session persists conversation records keyed by user id.
//
// Every backend stores the JSON form of a Record under Prefix+userID with an
// absolute expiry, and applies the same expiry rule on load: a record whose
// firstReceived is older than MaxAge is replaced by a fresh one that keeps
// only the locale path.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/youpin-city/mafueng-bot/core/logger"
)

const (
	// DefaultPrefix namespaces session keys.
	DefaultPrefix = "mafueng-user:"
	// DefaultMaxAge bounds how long a conversation may run before it restarts.
	DefaultMaxAge = time.Hour
)

// Store loads and saves session records. Load never fails for a missing key.
type Store interface {
	Load(ctx context.Context, userID string) (Record, error)
	Save(ctx context.Context, userID string, rec Record, ttl time.Duration) error
}

// Purger removes expired records from backends without native TTL.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Options are shared by all store backends.
type Options struct {
	Prefix string
	MaxAge time.Duration
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Prefix) == "" {
		o.Prefix = DefaultPrefix
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Key builds the storage key for a user.
func (o Options) Key(userID string) string {
	return o.withDefaults().Prefix + userID
}

// Resolve applies the expiry rule to a loaded record. It reports whether the
// record was discarded.
func Resolve(rec Record, now time.Time, maxAge time.Duration) (Record, bool) {
	if maxAge <= 0 {
		return rec, false
	}
	if now.UnixMilli()-rec.FirstReceived < maxAge.Milliseconds() {
		return rec, false
	}
	return Fresh(rec.LocaleOverride), true
}

// load turns raw stored bytes into a record, handling missing values and expiry.
func (o Options) load(ctx context.Context, backend, userID string, data []byte) (Record, error) {
	if len(data) == 0 {
		return Fresh(""), nil
	}
	rec, err := Decode(data)
	if err != nil {
		logger.Warn(ctx, "session", "session.decode",
			slog.String("status", "fail"),
			slog.String("backend", backend),
			slog.String("err", err.Error()),
		)
		return Record{}, err
	}
	resolved, expired := Resolve(rec, o.Now(), o.MaxAge)
	if expired {
		logger.Debug(ctx, "session", "session.expired",
			slog.String("backend", backend),
			slog.String("session_key", o.Prefix+userID),
			slog.String("state", rec.State.String()),
			slog.Int64("first_received", rec.FirstReceived),
		)
	}
	return resolved, nil
}
