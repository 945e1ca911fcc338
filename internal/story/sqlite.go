package story

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS works (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    status TEXT NOT NULL,
    target_chapters INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Full continuity record as a JSON document, one per work.
CREATE TABLE IF NOT EXISTS states (
    work_id TEXT PRIMARY KEY REFERENCES works(id),
    current_chapter INTEGER NOT NULL,
    plot_progress REAL NOT NULL,
    stage TEXT NOT NULL,
    document TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
    work_id TEXT NOT NULL REFERENCES works(id),
    number INTEGER NOT NULL,
    document TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (work_id, number)
);

CREATE INDEX IF NOT EXISTS idx_works_status ON works(status);
`

// SQLiteStore is the database-backed Store. Commit atomicity comes from a
// single transaction per commit instead of the file store's write-then-rename
// ordering.
type SQLiteStore struct {
	conn   *sql.DB
	logger *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteStore{
		conn:   conn,
		logger: logger.With("component", "story_store", "backend", "sqlite"),
		clock:  time.Now,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) workLock(workID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[workID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[workID] = l
	return l
}

func (s *SQLiteStore) Load(ctx context.Context, workID string) (*StoryState, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx,
		`SELECT document FROM states WHERE work_id = ?`, workID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", serrors.ErrWorkNotFound, workID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	var state StoryState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, fmt.Errorf("parsing state document: %w", err)
	}
	return &state, nil
}

func (s *SQLiteStore) Create(ctx context.Context, meta WorkMetadata) (*StoryState, error) {
	now := s.clock()
	state := &StoryState{
		Work: Work{
			ID:             uuid.NewString(),
			Title:          meta.Title,
			Status:         StatusDrafting,
			TargetChapters: meta.TargetChapters,
			Tropes:         meta.Tropes,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		Stage:      StageIntroduction,
		Characters: meta.Characters,
		WorldRules: meta.WorldRules,
	}
	if err := ValidateState(state); err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO works (id, title, status, target_chapters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.Work.ID, state.Work.Title, string(state.Work.Status),
		state.Work.TargetChapters, now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("inserting work: %w", err)
	}
	if err := upsertState(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info("created work", "work_id", state.Work.ID, "title", state.Work.Title)
	return state, nil
}

func (s *SQLiteStore) CommitChapter(ctx context.Context, workID string, ch *Chapter, delta StateDelta) (*StoryState, error) {
	lock := s.workLock(workID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.Load(ctx, workID)
	if err != nil {
		return nil, err
	}
	next, err := applyCommit(prev, ch, delta, s.clock())
	if err != nil {
		return nil, err
	}

	chDoc, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("encoding chapter: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chapters (work_id, number, document, created_at)
		VALUES (?, ?, ?, ?)`,
		workID, ch.Number, string(chDoc), s.clock().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("inserting chapter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE works SET status = ?, updated_at = ? WHERE id = ?`,
		string(next.Work.Status), next.Work.UpdatedAt.UTC().Format(time.RFC3339), workID); err != nil {
		return nil, fmt.Errorf("updating work: %w", err)
	}
	if err := upsertState(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info("committed chapter",
		"work_id", workID,
		"chapter", ch.Number,
		"progress", next.PlotProgress,
		"stage", next.Stage,
		"degraded", ch.Degraded)
	return next, nil
}

func (s *SQLiteStore) MarkComplete(ctx context.Context, workID string) error {
	lock := s.workLock(workID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.Load(ctx, workID)
	if err != nil {
		return err
	}
	state.Work.Status = StatusComplete
	state.Work.UpdatedAt = s.clock()
	state.Stage = StageResolution

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE works SET status = ?, updated_at = ? WHERE id = ?`,
		string(StatusComplete), state.Work.UpdatedAt.UTC().Format(time.RFC3339), workID); err != nil {
		return fmt.Errorf("updating work: %w", err)
	}
	if err := upsertState(ctx, tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info("marked work complete", "work_id", workID, "chapters", state.CurrentChapter)
	return nil
}

func (s *SQLiteStore) ListWorks(ctx context.Context) ([]Work, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT s.document FROM states s
		JOIN works w ON w.id = s.work_id
		ORDER BY w.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing works: %w", err)
	}
	defer rows.Close()

	var works []Work
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var state StoryState
		if err := json.Unmarshal([]byte(doc), &state); err != nil {
			s.logger.Warn("skipping corrupt state document", "error", err)
			continue
		}
		works = append(works, state.Work)
	}
	return works, rows.Err()
}

func upsertState(ctx context.Context, tx *sql.Tx, state *StoryState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO states (work_id, current_chapter, plot_progress, stage, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(work_id) DO UPDATE SET
			current_chapter = excluded.current_chapter,
			plot_progress = excluded.plot_progress,
			stage = excluded.stage,
			document = excluded.document`,
		state.Work.ID, state.CurrentChapter, state.PlotProgress,
		string(state.Stage), string(doc)); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}
