package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mls-sync/internal/circuitbreaker"
	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

// enrich looks up members for agent keys absent from the reference set.
// Lookups run with bounded width and every one settles before enrich returns;
// a failed lookup is recorded against the run and never aborts the others.
func (s *SyncService) enrich(ctx context.Context, r *run, keys []string) []*models.Agent {
	if len(keys) == 0 {
		return nil
	}
	logger := logging.FromContext(ctx)

	width := s.cfg.EnrichConcurrency
	if width <= 0 {
		width = 1
	}

	// a missing member is an answer, not a provider failure
	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:             "enrich:" + r.src.Name,
		MaxFailures:      s.cfg.CircuitBreakerFailures,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
		IsFailure: func(err error) bool {
			return !apperrors.HasCategory(err, apperrors.CategoryNotFound)
		},
	})

	found := make([]*models.Agent, len(keys))
	failures := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(width)
	for i, key := range keys {
		g.Go(func() error {
			err := breaker.Execute(ctx, func() error {
				raw, err := r.src.Client.GetMember(ctx, key)
				if err != nil {
					return err
				}
				agent, _, err := r.src.Transformer.Member(raw, types.AgentOriginLookup)
				if err != nil {
					return err
				}
				found[i] = agent
				return nil
			})
			if err != nil {
				failures[i] = fmt.Errorf("member %s: %w", key, err)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	var agents []*models.Agent
	for i := range keys {
		if failures[i] != nil {
			r.result.EnrichmentErrors = append(r.result.EnrichmentErrors, failures[i].Error())
			continue
		}
		if found[i] != nil {
			agents = append(agents, found[i])
		}
	}

	r.result.EnrichmentBreaker = breaker.GetStats()
	logger.WithFields(map[string]interface{}{
		"requested": len(keys),
		"found":     len(agents),
		"failed":    len(r.result.EnrichmentErrors),
		"breaker":   r.result.EnrichmentBreaker.State,
	}).Info("[Sync] Enriched missing agents")

	return agents
}
