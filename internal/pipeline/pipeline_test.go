package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ceradon/sam-digest/internal/notice"
	"github.com/ceradon/sam-digest/internal/scoring"
	"github.com/ceradon/sam-digest/internal/store"
)

var (
	windowFrom = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
)

type stubSource struct {
	raws []notice.Raw
	err  error
}

func (s *stubSource) Search(context.Context, time.Time, time.Time) ([]notice.Raw, error) {
	return s.raws, s.err
}

type memRow struct {
	opp      notice.Opportunity
	scored   *scoring.Result
	digested bool
	lastSeen time.Time
}

// memStore implements store.Runner with copy-on-write batches so a failed
// batch leaves prior state untouched, mirroring the transactional store.
type memStore struct {
	rows       map[string]memRow
	failUpsert string
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]memRow{}}
}

func (m *memStore) InBatch(ctx context.Context, fn func(ctx context.Context, b store.Batch) error) error {
	staged := make(map[string]memRow, len(m.rows))
	for id, row := range m.rows {
		staged[id] = row
	}
	batch := &memBatch{rows: staged, failUpsert: m.failUpsert}
	if err := fn(ctx, batch); err != nil {
		return err
	}
	m.rows = staged
	return nil
}

type memBatch struct {
	rows       map[string]memRow
	failUpsert string
}

func (b *memBatch) Upsert(_ context.Context, opp *notice.Opportunity) (store.UpsertResult, error) {
	if opp.NoticeID == b.failUpsert {
		return store.UpsertResult{}, fmt.Errorf("disk full")
	}
	now := time.Now().UTC()
	existing, ok := b.rows[opp.NoticeID]
	if !ok {
		b.rows[opp.NoticeID] = memRow{opp: *opp, lastSeen: now}
		return store.UpsertResult{IsNew: true}, nil
	}
	if existing.opp.RawSourceHash == opp.RawSourceHash {
		existing.lastSeen = now
		b.rows[opp.NoticeID] = existing
		return store.UpsertResult{}, nil
	}
	existing.opp = *opp
	existing.lastSeen = now
	b.rows[opp.NoticeID] = existing
	return store.UpsertResult{Changed: true}, nil
}

func (b *memBatch) SaveScore(_ context.Context, noticeID string, result scoring.Result) error {
	row := b.rows[noticeID]
	row.scored = &result
	b.rows[noticeID] = row
	return nil
}

func (b *memBatch) MarkDigested(_ context.Context, noticeIDs []string) error {
	for _, id := range noticeIDs {
		row := b.rows[id]
		row.digested = true
		b.rows[id] = row
	}
	return nil
}

func testConfig() *scoring.Config {
	return &scoring.Config{
		NAICSInclude:       []string{"541"},
		ExcludeNoticeTypes: []string{"Award Notice"},
		Keywords: []scoring.KeywordWeight{
			{Keyword: "sensor", Weight: 10},
			{Keyword: "construction", Weight: -20},
		},
		IncludeInDigestScore: 5,
	}
}

func rawNotice(id, title string) notice.Raw {
	return notice.Raw{
		"noticeId":   id,
		"title":      title,
		"naicsCode":  "541715",
		"noticeType": "Solicitation",
		"postedDate": "2026-08-20",
	}
}

func newTestPipeline(source Source, st store.Runner, maxItems int) *Pipeline {
	return New(source, st, testConfig(), maxItems, zap.NewNop())
}

func TestRunProducesDigestOnceOnly(t *testing.T) {
	raws := []notice.Raw{
		rawNotice("N1", "Advanced Sensor Array"),
		rawNotice("N2", "Sensor Calibration Services"),
	}
	st := newMemStore()
	p := newTestPipeline(&stubSource{raws: raws}, st, 0)

	first, err := p.Run(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(first.Digest) != 2 {
		t.Fatalf("expected 2 digest entries, got %d", len(first.Digest))
	}
	if first.Summary.New != 2 {
		t.Fatalf("expected 2 new, got %d", first.Summary.New)
	}

	// Identical fetch results: second run must see nothing new.
	second, err := p.Run(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(second.Digest) != 0 {
		t.Fatalf("expected empty digest on re-run, got %d entries", len(second.Digest))
	}
	if second.Summary.New != 0 || second.Summary.RefreshedUnchanged != 2 {
		t.Fatalf("unexpected summary on re-run: %+v", second.Summary)
	}
}

func TestRunDedupsByNoticeID(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(&stubSource{raws: []notice.Raw{rawNotice("N1", "Sensor Array")}}, st, 0)
	if _, err := p.Run(context.Background(), windowFrom, windowTo); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Same identity, edited description: store row refreshed, not duplicated,
	// and the notice does not re-enter the digest.
	edited := rawNotice("N1", "Sensor Array")
	edited["description"] = "now with updated requirements"
	p = newTestPipeline(&stubSource{raws: []notice.Raw{edited}}, st, 0)

	result, err := p.Run(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Summary.RefreshedChanged != 1 || result.Summary.New != 0 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if len(result.Digest) != 0 {
		t.Fatal("edited notice must not be re-digested")
	}
	if len(st.rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(st.rows))
	}
	if st.rows["N1"].opp.Description != "now with updated requirements" {
		t.Fatalf("row must reflect most recent payload, got %q", st.rows["N1"].opp.Description)
	}
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	raws := []notice.Raw{
		rawNotice("N1", "Sensor Array"),
		rawNotice("N2", "Sensor Mount"),
		{"title": "no identity"},
		rawNotice("N3", "Sensor Housing"),
		rawNotice("N4", "Sensor Firmware"),
	}
	st := newMemStore()
	p := newTestPipeline(&stubSource{raws: raws}, st, 0)

	result, err := p.Run(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("run must tolerate malformed records: %v", err)
	}
	if result.Summary.Malformed != 1 {
		t.Fatalf("expected 1 malformed, got %d", result.Summary.Malformed)
	}
	if result.Summary.New != 4 {
		t.Fatalf("expected 4 normalized records, got %d", result.Summary.New)
	}
}

func TestRunRankingAndCap(t *testing.T) {
	lowRaw := rawNotice("N9", "sensor")
	older := rawNotice("N2", "sensor sensor array")
	older["description"] = "sensor"
	older["postedDate"] = "2026-08-10"
	newer := rawNotice("N1", "sensor sensor array")
	newer["description"] = "sensor"
	newer["postedDate"] = "2026-08-25"
	tieBreak := rawNotice("N0", "sensor sensor array")
	tieBreak["description"] = "sensor"
	tieBreak["postedDate"] = "2026-08-25"

	cfg := testConfig()
	cfg.Keywords = []scoring.KeywordWeight{
		{Keyword: "sensor", Weight: 10},
		{Keyword: "array", Weight: 5},
	}
	st := newMemStore()
	p := New(&stubSource{raws: []notice.Raw{lowRaw, older, newer, tieBreak}}, st, cfg, 3, zap.NewNop())

	result, err := p.Run(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Digest) != 3 {
		t.Fatalf("expected digest capped at 3, got %d", len(result.Digest))
	}

	// Score desc, then posted_date desc, then notice_id asc. N9 (score 10)
	// ranks last and falls off the cap.
	wantOrder := []string{"N0", "N1", "N2"}
	for i, want := range wantOrder {
		if result.Digest[i].NoticeID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, result.Digest[i].NoticeID)
		}
	}
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(&stubSource{err: errors.New("connection refused")}, st, 0)

	_, err := p.Run(context.Background(), windowFrom, windowTo)
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("expected ErrFetchFailure, got %v", err)
	}
	if len(st.rows) != 0 {
		t.Fatal("fetch failure must not persist anything")
	}
}

func TestRunStoreFailureLeavesNoPartialState(t *testing.T) {
	st := newMemStore()
	st.failUpsert = "N2"
	raws := []notice.Raw{
		rawNotice("N1", "Sensor Array"),
		rawNotice("N2", "Sensor Mount"),
	}
	p := newTestPipeline(&stubSource{raws: raws}, st, 0)

	_, err := p.Run(context.Background(), windowFrom, windowTo)
	if !errors.Is(err, ErrStoreCommitFailure) {
		t.Fatalf("expected ErrStoreCommitFailure, got %v", err)
	}
	if len(st.rows) != 0 {
		t.Fatalf("aborted batch must not be visible, got %d rows", len(st.rows))
	}
}

func TestRunExcludedNeverQualifies(t *testing.T) {
	award := rawNotice("N1", "sensor sensor sensor sensor sensor")
	award["noticeType"] = "Award Notice"
	st := newMemStore()
	p := newTestPipeline(&stubSource{raws: []notice.Raw{award}}, st, 0)

	result, err := p.Run(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Summary.Excluded != 1 {
		t.Fatalf("expected 1 excluded, got %d", result.Summary.Excluded)
	}
	if len(result.Digest) != 0 {
		t.Fatal("hard-excluded notice must never appear in the digest")
	}
}

func TestBackfillDoesNotMarkDigested(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(&stubSource{raws: []notice.Raw{rawNotice("N1", "Sensor Array")}}, st, 0)

	result, err := p.Backfill(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if len(result.Digest) != 0 {
		t.Fatal("backfill must not produce a digest")
	}
	if result.Summary.Qualified != 1 {
		t.Fatalf("backfill should still score, got %+v", result.Summary)
	}
	row := st.rows["N1"]
	if row.digested {
		t.Fatal("backfill must not mark notices digested")
	}
	if row.scored == nil || row.scored.Score != 10 {
		t.Fatalf("backfill must persist scores, got %+v", row.scored)
	}
}
