package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

func (s *Store) SaveAlert(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	ttl := AlertRetention
	if alert.Acknowledged {
		ttl = AckedAlertRetention
	}
	if err := s.client.Set(ctx, alertKey(alert.Metric, alert.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// FindAlert locates an alert by id alone. The key embeds the metric name,
// so the lookup scans the alert keyspace for the id suffix.
func (s *Store) FindAlert(ctx context.Context, id string) (*models.Alert, error) {
	keys, err := s.scanKeys(ctx, "alert:*:"+id)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNotFound
	}

	data, err := s.client.Get(ctx, keys[0]).Bytes()
	if err != nil {
		return nil, ErrNotFound
	}

	var alert models.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", id, err)
	}
	return &alert, nil
}

// ListAlerts returns persisted alerts newest first. With a metric name the
// scan is narrowed to that metric's alerts. Malformed records are skipped
// with a warning.
func (s *Store) ListAlerts(ctx context.Context, metric string) ([]*models.Alert, error) {
	pattern := "alert:*"
	if metric != "" {
		pattern = "alert:" + metric + ":*"
	}

	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	payloads, err := s.fetchAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	alerts := make([]*models.Alert, 0, len(payloads))
	for _, data := range payloads {
		var alert models.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			logger.Warnf("skipping malformed alert record: %v", err)
			continue
		}
		alerts = append(alerts, &alert)
	}

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts, nil
}

// AcknowledgeAlert flips the acknowledged flag, records who acknowledged
// and when, and re-arms the record's retention to the acknowledged window.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, user string) (*models.Alert, error) {
	alert, err := s.FindAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	alert.Acknowledge(user)
	if err := s.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}
