package adapters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFraudSignals tracks timestamped failed-login and payment-event
// signals in Redis sorted sets, one set per (kind, key) pair, scored by
// Unix-nanosecond timestamp. A window query is a ZRANGEBYSCORE; a
// count-since is its cardinality. Entries older than retentionWindow
// are trimmed lazily on each write so the sets never grow unbounded.
type RedisFraudSignals struct {
	client          *redis.Client
	retentionWindow time.Duration
}

func NewRedisFraudSignals(client *redis.Client, retentionWindow time.Duration) *RedisFraudSignals {
	if retentionWindow <= 0 {
		retentionWindow = 48 * time.Hour
	}
	return &RedisFraudSignals{client: client, retentionWindow: retentionWindow}
}

func (r *RedisFraudSignals) RecordFailedLogin(ctx context.Context, userID, ip string, at time.Time) error {
	pipe := r.client.Pipeline()
	r.addAndTrim(ctx, pipe, loginByUserKey(userID), at)
	r.addAndTrim(ctx, pipe, loginByIPKey(ip), at)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisFraudSignals) CountByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.countSince(ctx, loginByUserKey(userID), since)
}

func (r *RedisFraudSignals) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	return r.countSince(ctx, loginByIPKey(ip), since)
}

func (r *RedisFraudSignals) TimestampsByIPSince(ctx context.Context, ip string, since time.Time) ([]time.Time, error) {
	members, err := r.client.ZRangeByScore(ctx, loginByIPKey(ip), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis fraud signals: range by score: %w", err)
	}
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		ns, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Unix(0, ns))
	}
	return out, nil
}

func (r *RedisFraudSignals) RecordPaymentEvent(ctx context.Context, userID, ip string, failed bool, at time.Time) error {
	pipe := r.client.Pipeline()
	r.addAndTrim(ctx, pipe, paymentEventsKey(userID), at)
	if failed {
		r.addAndTrim(ctx, pipe, paymentFailuresKey(userID), at)
	}
	member := fmt.Sprintf("%d:%s", at.UnixNano(), ip)
	pipe.ZAdd(ctx, paymentIPsKey(userID), redis.Z{Score: float64(at.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, paymentIPsKey(userID), "-inf", strconv.FormatInt(at.Add(-r.retentionWindow).UnixNano(), 10))
	pipe.Expire(ctx, paymentIPsKey(userID), r.retentionWindow)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisFraudSignals) FailedCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.countSince(ctx, paymentFailuresKey(userID), since)
}

func (r *RedisFraudSignals) EventCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.countSince(ctx, paymentEventsKey(userID), since)
}

func (r *RedisFraudSignals) DistinctIPCountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	members, err := r.client.ZRangeByScore(ctx, paymentIPsKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis fraud signals: range by score: %w", err)
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		idx := lastColon(m)
		if idx < 0 {
			continue
		}
		seen[m[idx+1:]] = struct{}{}
	}
	return len(seen), nil
}

func (r *RedisFraudSignals) addAndTrim(ctx context.Context, pipe redis.Pipeliner, key string, at time.Time) {
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(at.Add(-r.retentionWindow).UnixNano(), 10))
	pipe.Expire(ctx, key, r.retentionWindow)
}

func (r *RedisFraudSignals) countSince(ctx context.Context, key string, since time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, key, strconv.FormatInt(since.UnixNano(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis fraud signals: zcount: %w", err)
	}
	return int(n), nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func loginByUserKey(userID string) string  { return fmt.Sprintf("fraud:login:user:%s", userID) }
func loginByIPKey(ip string) string        { return fmt.Sprintf("fraud:login:ip:%s", ip) }
func paymentEventsKey(userID string) string { return fmt.Sprintf("fraud:payment:events:%s", userID) }
func paymentFailuresKey(userID string) string {
	return fmt.Sprintf("fraud:payment:failures:%s", userID)
}
func paymentIPsKey(userID string) string { return fmt.Sprintf("fraud:payment:ips:%s", userID) }
