package story

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/serialist/internal/storage"
	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

// Store is the durable per-work continuity record. Implementations must
// guarantee single-writer-per-work commits: a commit either applies the
// chapter append, character/plot mutation and progress recompute together,
// or leaves nothing observable.
type Store interface {
	Load(ctx context.Context, workID string) (*StoryState, error)
	Create(ctx context.Context, meta WorkMetadata) (*StoryState, error)
	CommitChapter(ctx context.Context, workID string, ch *Chapter, delta StateDelta) (*StoryState, error)
	MarkComplete(ctx context.Context, workID string) error
	ListWorks(ctx context.Context) ([]Work, error)
}

// FileStore keeps one JSON state document plus one document per chapter for
// each work, under workID-scoped paths.
type FileStore struct {
	backend storage.Storage
	logger  *slog.Logger
	clock   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(backend storage.Storage, logger *slog.Logger) *FileStore {
	return &FileStore{
		backend: backend,
		logger:  logger.With("component", "story_store"),
		clock:   time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *FileStore) workLock(workID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[workID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[workID] = l
	return l
}

func statePath(workID string) string {
	return fmt.Sprintf("works/%s/state.json", workID)
}

func chapterPath(workID string, number int) string {
	return fmt.Sprintf("works/%s/chapters/ch_%03d.json", workID, number)
}

func (s *FileStore) Load(ctx context.Context, workID string) (*StoryState, error) {
	if !s.backend.Exists(ctx, statePath(workID)) {
		return nil, fmt.Errorf("%w: %s", serrors.ErrWorkNotFound, workID)
	}
	data, err := s.backend.Load(ctx, statePath(workID))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	var state StoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state document: %w", err)
	}
	return &state, nil
}

func (s *FileStore) Create(ctx context.Context, meta WorkMetadata) (*StoryState, error) {
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
	if err := s.writeState(ctx, state); err != nil {
		return nil, err
	}
	s.logger.Info("created work",
		"work_id", state.Work.ID,
		"title", state.Work.Title,
		"target_chapters", state.Work.TargetChapters)
	return state, nil
}

func (s *FileStore) CommitChapter(ctx context.Context, workID string, ch *Chapter, delta StateDelta) (*StoryState, error) {
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

	// Chapter first, state second. If the state write fails the chapter
	// document is removed so no partial commit is observable.
	chPath := chapterPath(workID, ch.Number)
	chData, err := json.MarshalIndent(ch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding chapter: %w", err)
	}
	if err := s.backend.Save(ctx, chPath, chData); err != nil {
		return nil, fmt.Errorf("writing chapter: %w", err)
	}
	if err := s.writeState(ctx, next); err != nil {
		if delErr := s.backend.Delete(ctx, chPath); delErr != nil {
			s.logger.Error("rollback failed, orphan chapter document",
				"work_id", workID, "chapter", ch.Number, "error", delErr)
		}
		return nil, err
	}

	s.logger.Info("committed chapter",
		"work_id", workID,
		"chapter", ch.Number,
		"progress", next.PlotProgress,
		"stage", next.Stage,
		"degraded", ch.Degraded)
	return next, nil
}

func (s *FileStore) MarkComplete(ctx context.Context, workID string) error {
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
	if err := s.writeState(ctx, state); err != nil {
		return err
	}
	s.logger.Info("marked work complete", "work_id", workID, "chapters", state.CurrentChapter)
	return nil
}

func (s *FileStore) ListWorks(ctx context.Context) ([]Work, error) {
	paths, err := s.backend.List(ctx, "works/*/state.json")
	if err != nil {
		return nil, fmt.Errorf("listing works: %w", err)
	}
	works := make([]Work, 0, len(paths))
	for _, p := range paths {
		data, err := s.backend.Load(ctx, p)
		if err != nil {
			s.logger.Warn("skipping unreadable state document", "path", p, "error", err)
			continue
		}
		var state StoryState
		if err := json.Unmarshal(data, &state); err != nil {
			s.logger.Warn("skipping corrupt state document", "path", p, "error", err)
			continue
		}
		works = append(works, state.Work)
	}
	sort.Slice(works, func(i, j int) bool {
		return works[i].CreatedAt.Before(works[j].CreatedAt)
	})
	return works, nil
}

func (s *FileStore) writeState(ctx context.Context, state *StoryState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := s.backend.Save(ctx, statePath(state.Work.ID), data); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}
