package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

// ErrNotFound indicates the requested record does not exist or has expired.
var ErrNotFound = errors.New("record not found")

// Retention windows for persisted records. Acknowledged alerts are
// re-armed to the shorter window so they expire quickly once handled.
const (
	MetricRetention     = 7 * 24 * time.Hour
	AlertRetention      = 7 * 24 * time.Hour
	AckedAlertRetention = 24 * time.Hour
	DecisionRetention   = 7 * 24 * time.Hour
	EventRetention      = 30 * 24 * time.Hour
)

const scanPageSize = 100

// Store is the shared persistence layer for metric state, alerts and the
// scaling audit trail. It is safe for concurrent use from multiple
// collection and evaluation timers.
type Store struct {
	client *redis.Client
}

type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func currentKey(metric string) string { return "metric:" + metric + ":current" }

func statsKey(metric string) string { return "stats:metric:" + metric }

func historyKey(metric string) string { return "history:metric:" + metric }

func alertKey(metric, id string) string { return "alert:" + metric + ":" + id }

func eventKey(id string) string { return "scaling:event:" + id }

func decisionKey(service string, ts time.Time) string {
	return fmt.Sprintf("scaling:decision:%s:%d", service, ts.UnixMilli())
}

// SaveValue overwrites the current slot and appends to the history series
// for the value's metric. History entries older than the metric retention
// window are pruned on every append.
func (s *Store) SaveValue(ctx context.Context, v *models.MetricValue) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal metric value: %w", err)
	}

	if err := s.client.Set(ctx, currentKey(v.Metric), data, MetricRetention).Err(); err != nil {
		return fmt.Errorf("save current value: %w", err)
	}

	histKey := historyKey(v.Metric)
	score := float64(v.Timestamp.UnixMilli())
	if err := s.client.ZAdd(ctx, histKey, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	cutoff := v.Timestamp.Add(-MetricRetention).UnixMilli()
	if err := s.client.ZRemRangeByScore(ctx, histKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if err := s.client.Expire(ctx, histKey, MetricRetention).Err(); err != nil {
		return fmt.Errorf("refresh history ttl: %w", err)
	}
	return nil
}

func (s *Store) GetValue(ctx context.Context, metric string) (*models.MetricValue, error) {
	data, err := s.client.Get(ctx, currentKey(metric)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get current value: %w", err)
	}

	var v models.MetricValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode current value for %s: %w", metric, err)
	}
	return &v, nil
}

func (s *Store) SaveStats(ctx context.Context, stats *models.MetricStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := s.client.Set(ctx, statsKey(stats.Metric), data, MetricRetention).Err(); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (s *Store) GetStats(ctx context.Context, metric string) (*models.MetricStats, error) {
	data, err := s.client.Get(ctx, statsKey(metric)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stats: %w", err)
	}

	var stats models.MetricStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats for %s: %w", metric, err)
	}
	return &stats, nil
}

// GetHistory returns history entries with timestamps in the half-open
// range [start, end), oldest first. Entries that fail to decode are
// skipped with a warning.
func (s *Store) GetHistory(ctx context.Context, metric string, start, end time.Time) ([]*models.MetricValue, error) {
	members, err := s.client.ZRangeByScore(ctx, historyKey(metric), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	values := make([]*models.MetricValue, 0, len(members))
	for _, m := range members {
		var v models.MetricValue
		if err := json.Unmarshal([]byte(m), &v); err != nil {
			logger.WithMetric(metric).Warnf("skipping malformed history entry: %v", err)
			continue
		}
		values = append(values, &v)
	}
	return values, nil
}

// scanKeys collects all keys matching the pattern. Pages are fetched with
// SCAN so large keyspaces never block the server.
// PruneHistory drops history entries older than the given age across
// every metric series and reports how many were removed. SaveValue prunes
// on write; this sweep catches series whose metrics stopped collecting
// or collect on long intervals.
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	keys, err := s.scanKeys(ctx, "history:metric:*")
	if err != nil {
		return 0, fmt.Errorf("scan history keys: %w", err)
	}

	max := "(" + strconv.FormatInt(time.Now().Add(-olderThan).UnixMilli(), 10)

	var removed int64
	for _, key := range keys {
		n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Result()
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", key, err)
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		page, next, err := s.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// fetchAll MGETs the given keys, returning raw payloads. Keys that
// expired between scan and fetch are silently dropped.
func (s *Store) fetchAll(ctx context.Context, keys []string) ([][]byte, error) {
	var payloads [][]byte
	for i := 0; i < len(keys); i += scanPageSize {
		end := i + scanPageSize
		if end > len(keys) {
			end = len(keys)
		}
		page, err := s.client.MGet(ctx, keys[i:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("fetch records: %w", err)
		}
		for _, raw := range page {
			if raw == nil {
				continue
			}
			if str, ok := raw.(string); ok {
				payloads = append(payloads, []byte(str))
			}
		}
	}
	return payloads, nil
}
