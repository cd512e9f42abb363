// Package store persists notices in Postgres. It owns identity: a notice_id
// is present at most once, refreshed in place on re-sight. All writes of a
// single pipeline run happen inside one transaction so a failed run leaves no
// partial state behind.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ceradon/sam-digest/internal/notice"
	"github.com/ceradon/sam-digest/internal/scoring"
)

// ErrNotFound is returned by single-record lookups when no row matches.
var ErrNotFound = errors.New("notice not found")

// UpsertResult reports how an upsert resolved against the existing row.
type UpsertResult struct {
	// IsNew is true when the notice_id had never been seen before.
	IsNew bool
	// Changed is true when the notice existed but its raw_source_hash
	// differed, i.e. the upstream record was edited.
	Changed bool
}

// Batch is the write surface of one run. Implementations must make all writes
// visible atomically or not at all.
type Batch interface {
	Upsert(ctx context.Context, opp *notice.Opportunity) (UpsertResult, error)
	SaveScore(ctx context.Context, noticeID string, result scoring.Result) error
	MarkDigested(ctx context.Context, noticeIDs []string) error
}

// Runner hands out atomic write batches.
type Runner interface {
	InBatch(ctx context.Context, fn func(ctx context.Context, b Batch) error) error
}

// StoredNotice is a persisted notice together with its last-computed score.
type StoredNotice struct {
	notice.Opportunity
	Score    *float64       `json:"score,omitempty"`
	Matched  []scoring.Rule `json:"matched_rules,omitempty"`
	Digested bool           `json:"digested"`
}

type Store struct {
	pool *pgxpool.Pool
	// now is swappable so first_seen_at/last_seen_at are testable.
	now func() time.Time
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Connect opens a pgx pool from DATABASE_URL or the provided URL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, errors.New("database url is not configured (set store.database-url or DATABASE_URL)")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// InBatch runs fn inside a single transaction. A non-nil error from fn rolls
// everything back.
func (s *Store) InBatch(ctx context.Context, fn func(ctx context.Context, b Batch) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txBatch{tx: tx, now: s.now})
	})
}

// Exists reports whether a notice_id has been seen before. Never mutates.
func (s *Store) Exists(ctx context.Context, noticeID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM notices WHERE notice_id = $1)", noticeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("existence check for %s: %w", noticeID, err)
	}
	return exists, nil
}

const selectCols = `notice_id, solicitation_number, title, agency, notice_type,
	naics_code, set_aside, posted_date, response_deadline, description, link,
	raw_source_hash, score, matched_rules, digested, first_seen_at, last_seen_at`

// QuerySince returns notices posted on or after the given date, ordered by
// posted_date ascending with notice_id breaking ties for determinism.
func (s *Store) QuerySince(ctx context.Context, since time.Time) ([]StoredNotice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectCols+`
		FROM notices
		WHERE posted_date >= $1
		ORDER BY posted_date ASC, notice_id ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query since %s: %w", since.Format("2006-01-02"), err)
	}
	defer rows.Close()

	var notices []StoredNotice
	for rows.Next() {
		stored, err := scanNotice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning notice row: %w", err)
		}
		notices = append(notices, stored)
	}
	return notices, rows.Err()
}

// GetByNoticeID returns one notice with its last-computed score and rule
// trail, for explain output.
func (s *Store) GetByNoticeID(ctx context.Context, noticeID string) (*StoredNotice, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectCols+" FROM notices WHERE notice_id = $1", noticeID)
	stored, err := scanNotice(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, noticeID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching notice %s: %w", noticeID, err)
	}
	return &stored, nil
}

func scanNotice(scan func(dest ...any) error) (StoredNotice, error) {
	var stored StoredNotice
	var postedDate *time.Time
	var matchedRaw []byte

	err := scan(
		&stored.NoticeID, &stored.SolicitationNumber, &stored.Title, &stored.Agency, &stored.NoticeType,
		&stored.NAICSCode, &stored.SetAside, &postedDate, &stored.ResponseDeadline, &stored.Description, &stored.Link,
		&stored.RawSourceHash, &stored.Score, &matchedRaw, &stored.Digested, &stored.FirstSeenAt, &stored.LastSeenAt,
	)
	if err != nil {
		return stored, err
	}

	if postedDate != nil {
		stored.PostedDate = *postedDate
	}
	if len(matchedRaw) > 0 {
		if err := json.Unmarshal(matchedRaw, &stored.Matched); err != nil {
			return stored, fmt.Errorf("decoding matched rules for %s: %w", stored.NoticeID, err)
		}
	}
	return stored, nil
}

type txBatch struct {
	tx  pgx.Tx
	now func() time.Time
}

func (b *txBatch) Upsert(ctx context.Context, opp *notice.Opportunity) (UpsertResult, error) {
	var existingHash string
	err := b.tx.QueryRow(ctx,
		"SELECT raw_source_hash FROM notices WHERE notice_id = $1", opp.NoticeID,
	).Scan(&existingHash)

	now := b.now()
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = b.tx.Exec(ctx, `
			INSERT INTO notices (
				notice_id, solicitation_number, title, agency, notice_type,
				naics_code, set_aside, posted_date, response_deadline, description,
				link, raw_source_hash, first_seen_at, last_seen_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		`,
			opp.NoticeID, opp.SolicitationNumber, opp.Title, opp.Agency, opp.NoticeType,
			opp.NAICSCode, opp.SetAside, nilIfZeroTime(opp.PostedDate), opp.ResponseDeadline, opp.Description,
			opp.Link, opp.RawSourceHash, now,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("inserting notice %s: %w", opp.NoticeID, err)
		}
		return UpsertResult{IsNew: true}, nil

	case err != nil:
		return UpsertResult{}, fmt.Errorf("looking up notice %s: %w", opp.NoticeID, err)

	case existingHash == opp.RawSourceHash:
		// Same content re-delivered: only the sighting timestamp advances.
		_, err = b.tx.Exec(ctx,
			"UPDATE notices SET last_seen_at = $2 WHERE notice_id = $1", opp.NoticeID, now)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("refreshing notice %s: %w", opp.NoticeID, err)
		}
		return UpsertResult{}, nil

	default:
		// Upstream edited the record: full metadata refresh, same row.
		_, err = b.tx.Exec(ctx, `
			UPDATE notices SET
				solicitation_number = $2, title = $3, agency = $4, notice_type = $5,
				naics_code = $6, set_aside = $7, posted_date = $8, response_deadline = $9,
				description = $10, link = $11, raw_source_hash = $12, last_seen_at = $13
			WHERE notice_id = $1
		`,
			opp.NoticeID, opp.SolicitationNumber, opp.Title, opp.Agency, opp.NoticeType,
			opp.NAICSCode, opp.SetAside, nilIfZeroTime(opp.PostedDate), opp.ResponseDeadline,
			opp.Description, opp.Link, opp.RawSourceHash, now,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("updating notice %s: %w", opp.NoticeID, err)
		}
		return UpsertResult{Changed: true}, nil
	}
}

func (b *txBatch) SaveScore(ctx context.Context, noticeID string, result scoring.Result) error {
	matched, err := json.Marshal(result.Matched)
	if err != nil {
		return fmt.Errorf("encoding matched rules for %s: %w", noticeID, err)
	}
	_, err = b.tx.Exec(ctx,
		"UPDATE notices SET score = $2, matched_rules = $3 WHERE notice_id = $1",
		noticeID, result.Score, matched,
	)
	if err != nil {
		return fmt.Errorf("saving score for %s: %w", noticeID, err)
	}
	return nil
}

func (b *txBatch) MarkDigested(ctx context.Context, noticeIDs []string) error {
	if len(noticeIDs) == 0 {
		return nil
	}
	_, err := b.tx.Exec(ctx,
		"UPDATE notices SET digested = TRUE WHERE notice_id = ANY($1)", noticeIDs)
	if err != nil {
		return fmt.Errorf("marking %d notices digested: %w", len(noticeIDs), err)
	}
	return nil
}

func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
