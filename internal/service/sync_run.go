package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mls-sync/internal/adapter"
	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/lifecycle"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/resolver"
	"github.com/mls-sync/internal/transform"
	"github.com/mls-sync/internal/types"
)

// run carries the working state of one sync
type run struct {
	src       *Source
	mode      types.SyncMode
	id        string
	startedAt time.Time
	result    *SyncResult
	events    []models.StatusEvent
}

func newRun(src *Source, mode types.SyncMode, id string, started time.Time) *run {
	return &run{
		src:       src,
		mode:      mode,
		id:        id,
		startedAt: started,
		result: &SyncResult{
			RunID:   id,
			Source:  src.Name,
			Mode:    mode,
			Changes: map[types.ChangeKind]int{},
		},
	}
}

// processed pairs a listing ready to persist with how it changed
type processed struct {
	listing *models.Listing
	prev    *models.Listing
	kind    types.ChangeKind
}

func (s *SyncService) runFull(ctx context.Context, r *run) error {
	listings, err := s.fetchListings(ctx, r, nil, s.cfg.MaxPages)
	if err != nil {
		return err
	}

	exported, err := s.exportMembers(ctx, r)
	if err != nil {
		return err
	}

	candidates := s.completeAgentSet(ctx, r, exported, listings)

	prior, err := s.deps.Listings.MapBySource(ctx, r.src.Name)
	if err != nil {
		return apperrors.NewPersistenceError("load stored listings", err)
	}

	results := s.process(ctx, r, listings, candidates, prior)

	out := make([]*models.Listing, 0, len(results))
	for _, p := range results {
		out = append(out, p.listing)
	}

	pending := pendingByAgent(out)
	now := s.now()
	for _, a := range candidates {
		a.PendingListings = pending[a.SourceID]
		if a.PendingListings == nil {
			a.PendingListings = []string{}
		}
		a.UpdatedAt = now
	}

	r.result.Listings.Processed = len(listings)
	r.result.Agents.Processed = len(candidates)

	written, err := s.deps.Snapshots.ReplaceSource(ctx, r.src.Name, out, candidates)
	if err != nil {
		return apperrors.NewPersistenceError("replace source snapshot", err)
	}
	r.result.Listings.Upserted = written.Listings
	r.result.Agents.Upserted = written.Agents

	s.recordEvents(ctx, r)
	return nil
}

func (s *SyncService) runIncremental(ctx context.Context, r *run) error {
	logger := logging.FromContext(ctx)

	since, err := s.referenceTime(ctx, r.src.Name)
	if err != nil {
		return err
	}
	logger.WithField("since", since).Info("[Sync] Incremental reference time")

	listings, err := s.fetchListings(ctx, r, &since, s.cfg.MaxIncrementalPages)
	if err != nil {
		return err
	}

	stored, err := s.deps.Agents.ListBySource(ctx, r.src.Name)
	if err != nil {
		return apperrors.NewPersistenceError("load stored agents", err)
	}
	storedByKey := make(map[string]*models.Agent, len(stored))
	for _, a := range stored {
		storedByKey[a.SourceID] = a
	}

	candidates := s.completeAgentSet(ctx, r, stored, listings)

	keys := make([]string, 0, len(listings))
	for _, l := range listings {
		keys = append(keys, l.SourceID)
	}
	prior, err := s.deps.Listings.MapByKeys(ctx, r.src.Name, keys)
	if err != nil {
		return apperrors.NewPersistenceError("load stored listings", err)
	}

	results := s.process(ctx, r, listings, candidates, prior)

	var changed []*models.Listing
	affected := map[string]bool{}
	for _, p := range results {
		if p.kind == types.ChangeUnchanged {
			continue
		}
		changed = append(changed, p.listing)
		if k := p.listing.AgentKeyValue(); k != "" {
			affected[k] = true
		}
		if p.prev != nil && p.prev.AgentKeyValue() != "" {
			affected[p.prev.AgentKeyValue()] = true
		}
	}

	r.result.Listings.Processed = len(listings)
	upserted, err := s.deps.Listings.UpsertBatch(ctx, changed)
	if err != nil {
		return apperrors.NewPersistenceError("upsert listings", err)
	}
	r.result.Listings.Upserted = upserted

	// pending caches are recomputed from the store so unchanged listings still count
	affectedKeys := make([]string, 0, len(affected))
	for k := range affected {
		affectedKeys = append(affectedKeys, k)
	}
	sort.Strings(affectedKeys)
	pending, err := s.deps.Listings.PendingKeysByAgent(ctx, r.src.Name, affectedKeys)
	if err != nil {
		return apperrors.NewPersistenceError("load pending listings", err)
	}

	now := s.now()
	var agentWrites []*models.Agent
	for _, a := range candidates {
		old, known := storedByKey[a.SourceID]
		if known && !affected[a.SourceID] {
			continue
		}
		r.result.Agents.Processed++

		next := *a
		if affected[a.SourceID] {
			next.PendingListings = pending[a.SourceID]
		}
		if next.PendingListings == nil {
			next.PendingListings = []string{}
		}
		if known && equalStrings(old.PendingListings, next.PendingListings) {
			continue
		}
		next.UpdatedAt = now
		agentWrites = append(agentWrites, &next)
	}

	upserted, err = s.deps.Agents.UpsertBatch(ctx, agentWrites)
	if err != nil {
		return apperrors.NewPersistenceError("upsert agents", err)
	}
	r.result.Agents.Upserted = upserted

	s.recordEvents(ctx, r)
	return nil
}

// referenceTime is the end of the last successful run, or now minus the lookback window.
// In-progress and failed rows never qualify.
func (s *SyncService) referenceTime(ctx context.Context, source string) (time.Time, error) {
	last, err := s.deps.History.LastSuccessful(ctx, source)
	if err != nil {
		return time.Time{}, apperrors.NewPersistenceError("load last successful run", err)
	}
	if last != nil && last.EndTime != nil {
		return last.EndTime.UTC(), nil
	}
	return s.now().Add(-s.cfg.Lookback), nil
}

// fetchListings walks every tracked status filter in turn and returns the transformed,
// de-duplicated listings. Within a run the record with the later modification time wins.
func (s *SyncService) fetchListings(ctx context.Context, r *run, since *time.Time, maxPages int) ([]*models.Listing, error) {
	logger := logging.FromContext(ctx)

	byKey := map[string]int{}
	var listings []*models.Listing

	for _, status := range r.src.StatusFilters {
		q := adapter.ListingQuery{
			Status:        status,
			PageSize:      s.cfg.PageSize,
			ModifiedSince: since,
			MaxPages:      maxPages,
		}

		stats, err := r.src.Client.SearchListings(ctx, q, func(ctx context.Context, records []json.RawMessage) error {
			for _, raw := range records {
				listing, warnings, err := r.src.Transformer.Listing(raw)
				if err != nil {
					r.result.RecordErrors = append(r.result.RecordErrors, err.Error())
					continue
				}
				r.result.DataShapeWarnings += len(warnings)

				// server-side filters are advisory; never let an older record into an incremental run
				if since != nil && listing.ModifiedAt != nil && listing.ModifiedAt.Before(*since) {
					r.result.SkippedStale++
					continue
				}

				if i, seen := byKey[listing.SourceID]; seen {
					if newer(listing, listings[i]) {
						listings[i] = listing
					}
					continue
				}
				byKey[listing.SourceID] = len(listings)
				listings = append(listings, listing)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s listings: %w", status, err)
		}

		if stats.Truncated {
			r.result.Truncated = true
			logger.WithFields(map[string]interface{}{
				"status": status,
				"pages":  stats.Pages,
			}).Warn("[Sync] Page ceiling reached before the listing scan completed")
		}
		logger.WithFields(map[string]interface{}{
			"status":  status,
			"pages":   stats.Pages,
			"records": stats.Records,
		}).Info("[Sync] Fetched listings")
	}

	return listings, nil
}

// newer reports whether a should replace b; ties go to the record seen last
func newer(a, b *models.Listing) bool {
	if a.ModifiedAt == nil {
		return b.ModifiedAt == nil
	}
	if b.ModifiedAt == nil {
		return true
	}
	return !a.ModifiedAt.Before(*b.ModifiedAt)
}

func (s *SyncService) exportMembers(ctx context.Context, r *run) ([]*models.Agent, error) {
	byKey := map[string]int{}
	var agents []*models.Agent

	stats, err := r.src.Client.ExportMembers(ctx, s.cfg.PageSize, s.cfg.MaxPages, func(ctx context.Context, records []json.RawMessage) error {
		for _, raw := range records {
			agent, warnings, err := r.src.Transformer.Member(raw, types.AgentOriginExport)
			if err != nil {
				r.result.RecordErrors = append(r.result.RecordErrors, err.Error())
				continue
			}
			r.result.DataShapeWarnings += len(warnings)

			if i, seen := byKey[agent.SourceID]; seen {
				agents[i] = agent
				continue
			}
			byKey[agent.SourceID] = len(agents)
			agents = append(agents, agent)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export members: %w", err)
	}
	if stats.Truncated {
		r.result.Truncated = true
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"pages":   stats.Pages,
		"members": len(agents),
	}).Info("[Sync] Exported members")
	return agents, nil
}

// completeAgentSet extends the reference set with looked-up members for unknown
// listing agent keys and with identities carried on the listings themselves
func (s *SyncService) completeAgentSet(ctx context.Context, r *run, base []*models.Agent, listings []*models.Listing) []*models.Agent {
	agents := make([]*models.Agent, 0, len(base))
	known := map[string]bool{}
	for _, a := range base {
		agents = append(agents, a)
		known[a.SourceID] = true
		if a.MemberKey != "" {
			known[a.MemberKey] = true
		}
	}

	var missing []string
	queued := map[string]bool{}
	for _, l := range listings {
		key := l.StandardFields.ListAgentKey
		if key == "" || known[key] || queued[key] {
			continue
		}
		queued[key] = true
		missing = append(missing, key)
	}

	for _, a := range s.enrich(ctx, r, missing) {
		if known[a.SourceID] {
			continue
		}
		agents = append(agents, a)
		known[a.SourceID] = true
		if a.MemberKey != "" {
			known[a.MemberKey] = true
		}
	}

	for _, l := range listings {
		discovered := transform.ListingAgent(l)
		if discovered == nil || known[discovered.SourceID] {
			continue
		}
		agents = append(agents, discovered)
		known[discovered.SourceID] = true
	}

	return agents
}

// process resolves agents and applies the lifecycle against prior state for every listing
func (s *SyncService) process(ctx context.Context, r *run, listings []*models.Listing, candidates []*models.Agent, prior map[string]*models.Listing) []processed {
	logger := logging.FromContext(ctx)
	now := s.now()

	out := make([]processed, 0, len(listings))
	for _, l := range listings {
		match := resolver.Resolve(resolver.ReferenceFromListing(l), candidates)
		l.AgentKey = match.AgentKey()
		if !match.Resolved {
			r.result.WarningCount++
			logger.WithError(apperrors.NewUnresolvedAgentError(l.SourceID)).Debug("[Sync] Agent unresolved")
		}

		prev := prior[l.SourceID]
		if known := lifecycle.Apply(prev, l, now); !known && l.RawStatus != "" {
			r.result.DataShapeWarnings++
			logger.WithFields(map[string]interface{}{
				"listingKey": l.SourceID,
				"rawStatus":  l.RawStatus,
			}).Debug("[Sync] Unknown status mapped to Active")
		}

		l.ContentHash = transform.ContentHash(l)
		l.LastSyncedAt = now
		l.FirstSeenAt = now
		if prev != nil && !prev.FirstSeenAt.IsZero() {
			l.FirstSeenAt = prev.FirstSeenAt
		}

		kind := lifecycle.Classify(prev, l)
		r.result.Changes[kind]++

		if prev != nil && len(l.StatusHistory) > len(prev.StatusHistory) {
			last := l.StatusHistory[len(l.StatusHistory)-1]
			r.events = append(r.events, models.StatusEvent{
				Source:     r.src.Name,
				ListingKey: l.SourceID,
				RunID:      r.id,
				FromStatus: last.FromStatus,
				ToStatus:   last.ToStatus,
				ChangeKind: kind,
				ChangedAt:  last.ChangedAt,
			})
		}

		out = append(out, processed{listing: l, prev: prev, kind: kind})
	}
	return out
}

// recordEvents forwards transitions to the audit sink; failures are reported, not fatal
func (s *SyncService) recordEvents(ctx context.Context, r *run) {
	if s.deps.Events == nil || len(r.events) == 0 {
		return
	}
	if err := s.deps.Events.Record(ctx, r.events); err != nil {
		r.result.AuditErrors = append(r.result.AuditErrors, err.Error())
		logging.FromContext(ctx).WithError(err).Warn("[Sync] Failed to record status events")
	}
}

// pendingByAgent maps each agent key to the sorted keys of its pending listings
func pendingByAgent(listings []*models.Listing) map[string][]string {
	out := map[string][]string{}
	for _, l := range listings {
		if l.LifecycleStatus != types.LifecyclePending || l.AgentKey == nil {
			continue
		}
		out[*l.AgentKey] = append(out[*l.AgentKey], l.SourceID)
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
