// Package pipeline orchestrates a single ingestion run: fetch raw notices,
// normalize, dedup against the store, score the newly seen ones and select
// the digest-worthy subset. One run writes through one atomic store batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ceradon/sam-digest/internal/notice"
	"github.com/ceradon/sam-digest/internal/scoring"
	"github.com/ceradon/sam-digest/internal/store"
)

var (
	// ErrFetchFailure aborts a run before any persistence. Re-running later
	// is always safe because dedup is identity based.
	ErrFetchFailure = errors.New("fetching opportunities failed")
	// ErrStoreCommitFailure aborts a run with no partial state visible.
	ErrStoreCommitFailure = errors.New("committing run batch failed")
)

// Source supplies raw opportunity payloads for a date window.
type Source interface {
	Search(ctx context.Context, from, to time.Time) ([]notice.Raw, error)
}

// Entry is one digest-qualified opportunity with its score.
type Entry struct {
	notice.Opportunity
	Result scoring.Result
}

// Summary counts every record outcome of a run. Nothing is silently dropped:
// skipped records show up here and in the log.
type Summary struct {
	Fetched            int `json:"fetched"`
	Malformed          int `json:"malformed"`
	New                int `json:"new"`
	RefreshedUnchanged int `json:"refreshed_unchanged"`
	RefreshedChanged   int `json:"refreshed_changed"`
	Excluded           int `json:"excluded"`
	Anomalies          int `json:"anomalies"`
	Qualified          int `json:"qualified"`
}

// RunResult is what a completed run hands to the digest collaborator.
type RunResult struct {
	Digest  []Entry
	Summary Summary
}

type Pipeline struct {
	source   Source
	store    store.Runner
	cfg      *scoring.Config
	maxItems int
	logger   *zap.Logger
	now      func() time.Time
}

func New(source Source, st store.Runner, cfg *scoring.Config, maxItems int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source:   source,
		store:    st,
		cfg:      cfg,
		maxItems: maxItems,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a full pass over the given posted-date window and returns the
// ranked digest set. Newly qualified notices are marked digested so they are
// never surfaced twice, even if a later edit changes their score.
func (p *Pipeline) Run(ctx context.Context, from, to time.Time) (*RunResult, error) {
	return p.run(ctx, from, to, true)
}

// Backfill ingests and scores a historical window without selecting anything
// for a digest.
func (p *Pipeline) Backfill(ctx context.Context, from, to time.Time) (*RunResult, error) {
	return p.run(ctx, from, to, false)
}

func (p *Pipeline) run(ctx context.Context, from, to time.Time, buildDigest bool) (*RunResult, error) {
	raws, err := p.source.Search(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}

	result := &RunResult{}
	result.Summary.Fetched = len(raws)

	// Normalization tolerates bad records at record granularity; only a
	// missing identity disqualifies a payload.
	candidates := make([]*notice.Opportunity, 0, len(raws))
	for _, raw := range raws {
		opp, err := notice.Normalize(raw)
		if err != nil {
			result.Summary.Malformed++
			p.logger.Warn("skipping malformed record", zap.Error(err))
			continue
		}
		candidates = append(candidates, opp)
	}

	err = p.store.InBatch(ctx, func(ctx context.Context, batch store.Batch) error {
		var qualified []Entry

		for _, opp := range candidates {
			upserted, err := batch.Upsert(ctx, opp)
			if err != nil {
				return err
			}

			switch {
			case upserted.IsNew:
				result.Summary.New++
			case upserted.Changed:
				// Store refreshed, but edited notices never re-enter the
				// digest; their original sighting already had its chance.
				result.Summary.RefreshedChanged++
				continue
			default:
				result.Summary.RefreshedUnchanged++
				continue
			}

			scored, anomaly := p.safeScore(opp)
			if anomaly {
				result.Summary.Anomalies++
			}
			if scored.Excluded {
				result.Summary.Excluded++
				continue
			}
			if err := batch.SaveScore(ctx, opp.NoticeID, scored); err != nil {
				return err
			}
			if scored.Qualifies(p.cfg.IncludeInDigestScore) {
				qualified = append(qualified, Entry{Opportunity: *opp, Result: scored})
			}
		}

		rank(qualified)
		if p.maxItems > 0 && len(qualified) > p.maxItems {
			qualified = qualified[:p.maxItems]
		}
		result.Summary.Qualified = len(qualified)

		if !buildDigest {
			return nil
		}

		ids := make([]string, 0, len(qualified))
		for _, entry := range qualified {
			ids = append(ids, entry.NoticeID)
		}
		if err := batch.MarkDigested(ctx, ids); err != nil {
			return err
		}

		result.Digest = qualified
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCommitFailure, err)
	}

	p.logger.Info("run completed",
		zap.Int("fetched", result.Summary.Fetched),
		zap.Int("malformed", result.Summary.Malformed),
		zap.Int("new", result.Summary.New),
		zap.Int("refreshed_unchanged", result.Summary.RefreshedUnchanged),
		zap.Int("refreshed_changed", result.Summary.RefreshedChanged),
		zap.Int("excluded", result.Summary.Excluded),
		zap.Int("qualified", result.Summary.Qualified),
	)

	return result, nil
}

// safeScore degrades a scoring panic on one record to a zero score instead of
// aborting the run.
func (p *Pipeline) safeScore(opp *notice.Opportunity) (result scoring.Result, anomaly bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("scoring anomaly, using zero score",
				zap.String("notice_id", opp.NoticeID),
				zap.Any("cause", r),
			)
			result = scoring.Result{}
			anomaly = true
		}
	}()
	return scoring.Score(opp, p.cfg, p.now()), false
}

// rank orders digest entries: score descending, then most recently posted,
// then notice_id ascending so output is stable.
func rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Result.Score != entries[j].Result.Score {
			return entries[i].Result.Score > entries[j].Result.Score
		}
		if !entries[i].PostedDate.Equal(entries[j].PostedDate) {
			return entries[i].PostedDate.After(entries[j].PostedDate)
		}
		return entries[i].NoticeID < entries[j].NoticeID
	})
}
