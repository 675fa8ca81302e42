package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

func (s *Store) SaveDecision(ctx context.Context, d *models.ScalingDecision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if err := s.client.Set(ctx, decisionKey(d.Service, d.Timestamp), data, DecisionRetention).Err(); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// ListDecisions returns persisted decisions for a service, newest first,
// at most limit entries. limit <= 0 returns everything retained.
func (s *Store) ListDecisions(ctx context.Context, service string, limit int) ([]*models.ScalingDecision, error) {
	keys, err := s.scanKeys(ctx, "scaling:decision:"+service+":*")
	if err != nil {
		return nil, err
	}
	payloads, err := s.fetchAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	decisions := make([]*models.ScalingDecision, 0, len(payloads))
	for _, data := range payloads {
		var d models.ScalingDecision
		if err := json.Unmarshal(data, &d); err != nil {
			logger.WithService(service).Warnf("skipping malformed decision record: %v", err)
			continue
		}
		decisions = append(decisions, &d)
	}

	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].Timestamp.After(decisions[j].Timestamp)
	})
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[:limit]
	}
	return decisions, nil
}

func (s *Store) SaveEvent(ctx context.Context, e *models.ScalingEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal scaling event: %w", err)
	}
	if err := s.client.Set(ctx, eventKey(e.ID), data, EventRetention).Err(); err != nil {
		return fmt.Errorf("save scaling event: %w", err)
	}
	return nil
}

// ListEvents returns executed scaling events for a service, newest first,
// at most limit entries. Corrupt records are skipped with a warning, never
// fatal to the listing.
func (s *Store) ListEvents(ctx context.Context, service string, limit int) ([]*models.ScalingEvent, error) {
	keys, err := s.scanKeys(ctx, "scaling:event:"+service+"-*")
	if err != nil {
		return nil, err
	}
	payloads, err := s.fetchAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	events := make([]*models.ScalingEvent, 0, len(payloads))
	for _, data := range payloads {
		var e models.ScalingEvent
		if err := json.Unmarshal(data, &e); err != nil {
			logger.WithService(service).Warnf("skipping malformed scaling event record: %v", err)
			continue
		}
		events = append(events, &e)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
