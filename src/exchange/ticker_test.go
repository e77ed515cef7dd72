package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTickerCachePriceLookup(t *testing.T) {
	cache := NewTickerCache()

	if _, ok := cache.Price("BTCUSDT"); ok {
		t.Fatalf("expected no price for unknown symbol")
	}

	want := decimal.RequireFromString("50000")
	cache.Update("BTCUSDT", want, time.Now())

	got, ok := cache.Price("BTCUSDT")
	if !ok || !got.Equal(want) {
		t.Fatalf("expected cached price %s, got %s (ok=%v)", want, got, ok)
	}
}

func TestTickerCacheStaleness(t *testing.T) {
	cache := NewTickerCache()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	if !cache.IsStale("ETHUSDT", time.Minute) {
		t.Fatalf("unknown symbol should be stale")
	}

	cache.Update("ETHUSDT", decimal.RequireFromString("3000"), base.Add(-30*time.Second))
	if cache.IsStale("ETHUSDT", time.Minute) {
		t.Fatalf("30s old price should not be stale at 60s max age")
	}

	cache.Update("ETHUSDT", decimal.RequireFromString("3000"), base.Add(-2*time.Minute))
	if !cache.IsStale("ETHUSDT", time.Minute) {
		t.Fatalf("2m old price should be stale at 60s max age")
	}
}
