package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"vitals-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func unreachableClient() *RedisClient {
	return newRedisClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}), 0)
}

func TestNewRedisClientDefaults(t *testing.T) {
	c := unreachableClient()
	defer c.Close()
	if c.ttl != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", c.ttl)
	}
	if c.keep != DefaultKeep {
		t.Fatalf("expected default keep, got %d", c.keep)
	}
}

func TestSampleKey(t *testing.T) {
	if got := sampleKey("abc"); got != "vitals:sample:abc" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestRecentSamplesZeroCount(t *testing.T) {
	c := unreachableClient()
	defer c.Close()
	samples, err := c.RecentSamples(context.Background(), 0)
	if err != nil || samples != nil {
		t.Fatalf("expected nil, nil for zero count, got %v, %v", samples, err)
	}
}

func TestStoreSampleUnreachable(t *testing.T) {
	c := unreachableClient()
	defer c.Close()
	err := c.StoreSample(context.Background(), models.Sample{ID: "x"})
	if err == nil {
		t.Fatal("expected error from unreachable redis")
	}
	if !strings.Contains(err.Error(), "failed to store sample in Redis") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewRedisClientPingFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewRedisClient(ctx, "127.0.0.1:1", time.Minute); err == nil {
		t.Fatal("expected ping error")
	}
}

func newMiniredisClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisClient(context.Background(), mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("connect to miniredis: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestStoreAndRestoreRoundTrip(t *testing.T) {
	c, mr := newMiniredisClient(t)
	ctx := context.Background()

	for i, id := range []string{"first", "second", "third"} {
		s := models.Sample{ID: id, Timestamp: int64(1700000000000 + i), URL: "/", Score: 90 - i}
		if err := c.StoreSample(ctx, s); err != nil {
			t.Fatalf("store %s: %v", id, err)
		}
	}
	if ttl := mr.TTL(sampleKey("first")); ttl != time.Hour {
		t.Errorf("sample ttl = %v, want 1h", ttl)
	}

	// Expire the middle sample only; its list entry stays behind.
	mr.SetTTL(sampleKey("second"), time.Second)
	mr.FastForward(2 * time.Second)

	got, err := c.RecentSamples(ctx, 10)
	if err != nil {
		t.Fatalf("recent samples: %v", err)
	}
	if len(got) != 2 || got[0].ID != "first" || got[1].ID != "third" {
		t.Fatalf("expected [first third] oldest first, got %+v", got)
	}
	if got[1].Score != 88 || got[1].Timestamp != 1700000000002 {
		t.Errorf("sample not restored intact: %+v", got[1])
	}
}

func TestRecentSamplesSkipsUndecodable(t *testing.T) {
	c, mr := newMiniredisClient(t)
	ctx := context.Background()

	if err := c.StoreSample(ctx, models.Sample{ID: "good"}); err != nil {
		t.Fatal(err)
	}
	if err := mr.Set(sampleKey("bad"), "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := mr.Lpush(recentKey, sampleKey("bad")); err != nil {
		t.Fatal(err)
	}

	got, err := c.RecentSamples(ctx, 10)
	if err != nil {
		t.Fatalf("recent samples: %v", err)
	}
	if len(got) != 1 || got[0].ID != "good" {
		t.Fatalf("expected only the decodable sample, got %+v", got)
	}
}

func TestRecentSamplesHonoursCount(t *testing.T) {
	c, _ := newMiniredisClient(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := c.StoreSample(ctx, models.Sample{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.RecentSamples(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "d" {
		t.Fatalf("expected the newest two oldest first, got %+v", got)
	}
}
