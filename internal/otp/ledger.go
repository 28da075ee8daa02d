// Package otp holds the one-record-per-email passcode ledger backing
// the password-reset workflow.
package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MaxAttempts is the verification attempt ceiling. It is a fixed
// constant, not configuration.
const MaxAttempts = 5

// Record is the ephemeral state for one email: the issued code, its
// expiry, and how many failed verifications it has absorbed. A new
// issuance replaces the record wholesale (attempts reset to 0).
type Record struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// Expired reports whether the record's own expiry has passed. Expiry is
// checked lazily on access; nothing sweeps the ledger proactively.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

type Ledger interface {
	Get(ctx context.Context, email string) (Record, bool, error)
	Put(ctx context.Context, email string, record Record) error
	Save(ctx context.Context, email string, record Record) error
	Delete(ctx context.Context, email string) error
}

// RedisLedger stores records as JSON under one key per email. Keys are
// written with a retention TTL far beyond the OTP expiry: the in-record
// expiry stays the source of truth for the lazy expiry check, while the
// retention TTL bounds storage growth in place of an external
// retention job.
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisLedger(client *redis.Client, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisLedger{client: client, retention: retention}
}

func (l *RedisLedger) Get(ctx context.Context, email string) (Record, bool, error) {
	value, err := l.client.Get(ctx, resetKey(email)).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

// Put upserts the record, restarting the retention window.
func (l *RedisLedger) Put(ctx context.Context, email string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, resetKey(email), data, l.retention).Err()
}

// Save rewrites an existing record (attempt counter updates) without
// restarting the retention window.
func (l *RedisLedger) Save(ctx context.Context, email string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, resetKey(email), data, redis.KeepTTL).Err()
}

func (l *RedisLedger) Delete(ctx context.Context, email string) error {
	return l.client.Del(ctx, resetKey(email)).Err()
}

func resetKey(email string) string {
	return fmt.Sprintf("password_reset_otp:%s", email)
}
