package otp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func openTestRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("OTP_TEST_REDIS")
	if addr == "" {
		t.Skip("OTP_TEST_REDIS not set")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
		return nil
	}
	return client
}

func TestLedgerRoundTrip(t *testing.T) {
	client := openTestRedis(t)
	if client == nil {
		return
	}
	defer client.Close()

	ledger := NewRedisLedger(client, time.Hour)
	ctx := context.Background()
	email := "ledger-test@stu.vau.ac.lk"
	defer func() { _ = ledger.Delete(ctx, email) }()

	if _, found, err := ledger.Get(ctx, email); err != nil || found {
		t.Fatalf("expected no record, found=%v err=%v", found, err)
	}

	record := Record{Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute).UTC(), Attempts: 0}
	if err := ledger.Put(ctx, email, record); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, found, err := ledger.Get(ctx, email)
	if err != nil || !found {
		t.Fatalf("expected record, found=%v err=%v", found, err)
	}
	if got.Code != "123456" || got.Attempts != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}

	got.Attempts = 3
	if err := ledger.Save(ctx, email, got); err != nil {
		t.Fatalf("save error: %v", err)
	}
	got, found, err = ledger.Get(ctx, email)
	if err != nil || !found || got.Attempts != 3 {
		t.Fatalf("expected attempts=3, got %+v found=%v err=%v", got, found, err)
	}

	if err := ledger.Delete(ctx, email); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, found, err := ledger.Get(ctx, email); err != nil || found {
		t.Fatalf("expected record deleted, found=%v err=%v", found, err)
	}
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	record := Record{ExpiresAt: now.Add(time.Minute)}
	if record.Expired(now) {
		t.Fatalf("expected live record")
	}
	record.ExpiresAt = now.Add(-time.Second)
	if !record.Expired(now) {
		t.Fatalf("expected expired record")
	}
}
