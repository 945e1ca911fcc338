package story

import (
	"time"
)

// WorkStatus tracks the lifecycle of a serialized title.
type WorkStatus string

const (
	StatusDrafting    WorkStatus = "drafting"
	StatusSerializing WorkStatus = "serializing"
	StatusComplete    WorkStatus = "complete"
)

// Stage is one of the four ordered narrative phases.
type Stage string

const (
	StageIntroduction Stage = "introduction"
	StageDevelopment  Stage = "development"
	StageClimax       Stage = "climax"
	StageResolution   Stage = "resolution"
)

// CharacterRole identifies a character's structural function in the work.
type CharacterRole string

const (
	RoleProtagonist CharacterRole = "protagonist"
	RoleCounterpart CharacterRole = "counterpart"
	RoleSupporting  CharacterRole = "supporting"
)

// Work represents one serialized title.
type Work struct {
	ID             string     `json:"id" validate:"required"`
	Title          string     `json:"title" validate:"required,min=1,max=200"`
	Status         WorkStatus `json:"status" validate:"required,oneof=drafting serializing complete"`
	TargetChapters int        `json:"target_chapters" validate:"required,min=1,max=500"`
	Tropes         []string   `json:"tropes,omitempty"`
	CreatedAt      time.Time  `json:"created_at" validate:"required"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Traits are the stable attributes of a character. They are set once at
// creation and must never be overwritten by generation output.
type Traits struct {
	Appearance  string `json:"appearance"`
	Personality string `json:"personality"`
}

// CharacterState is the mutable portion of a character, updated after each
// committed chapter.
type CharacterState struct {
	Location     string `json:"location,omitempty"`
	Emotion      string `json:"emotion,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// Character is keyed by name within a work.
type Character struct {
	Name   string         `json:"name" validate:"required"`
	Role   CharacterRole  `json:"role" validate:"required,oneof=protagonist counterpart supporting"`
	Traits Traits         `json:"traits"`
	State  CharacterState `json:"state"`
}

// Foreshadow is one entry in the planted/resolved ledger.
type Foreshadow struct {
	Hint      string `json:"hint"`
	Chapter   int    `json:"chapter"`
	Resolved  bool   `json:"resolved"`
	ResolvedIn int   `json:"resolved_in,omitempty"`
}

// StoryState is the durable continuity record for a work. One per work.
type StoryState struct {
	Work           Work         `json:"work"`
	CurrentChapter int          `json:"current_chapter"`
	PlotProgress   float64      `json:"plot_progress"`
	Stage          Stage        `json:"stage"`
	Characters     []Character  `json:"characters"`
	WorldRules     []string     `json:"world_rules"`
	ActiveConflicts []string    `json:"active_conflicts"`
	Foreshadowing  []Foreshadow `json:"foreshadowing"`
	RecentSummaries []string    `json:"recent_summaries"`
	QualityHistory []float64    `json:"quality_history"`
	LastChapterAt  time.Time    `json:"last_chapter_at"`
}

// Character returns the named character, or nil.
func (s *StoryState) Character(name string) *Character {
	for i := range s.Characters {
		if s.Characters[i].Name == name {
			return &s.Characters[i]
		}
	}
	return nil
}

// UnresolvedForeshadowing returns planted hints not yet paid off.
func (s *StoryState) UnresolvedForeshadowing() []Foreshadow {
	var out []Foreshadow
	for _, f := range s.Foreshadowing {
		if !f.Resolved {
			out = append(out, f)
		}
	}
	return out
}

// Chapter is the produced artifact. Immutable once committed.
type Chapter struct {
	WorkID        string         `json:"work_id" validate:"required"`
	Number        int            `json:"number" validate:"required,min=1"`
	Title         string         `json:"title" validate:"required"`
	Body          string         `json:"body" validate:"required,min=100"`
	Summary       string         `json:"summary" validate:"required"`
	KeyEvents     []string       `json:"key_events"`
	EmotionalTone string         `json:"emotional_tone"`
	WordCount     int            `json:"word_count" validate:"min=1"`
	Quality       *QualityReport `json:"quality,omitempty"`
	Degraded      bool           `json:"degraded"`
	Final         bool           `json:"final"`
	CreatedAt     time.Time      `json:"created_at"`
}

// GradeBand classifies a composite score.
type GradeBand string

const (
	GradePerfect   GradeBand = "perfect"
	GradeExcellent GradeBand = "excellent"
	GradeGood      GradeBand = "good"
	GradePoor      GradeBand = "poor"
	GradeCritical  GradeBand = "critical"
)

// QualityReport is produced per generation attempt. Only the final accepted
// (or final best-effort) report survives, in the state's history ring.
type QualityReport struct {
	Scores    map[string]float64 `json:"scores"`
	Composite float64            `json:"composite"`
	Grade     GradeBand          `json:"grade"`
	Passed    bool               `json:"passed"`
	Threshold float64            `json:"threshold"`
	Issues    []string           `json:"issues,omitempty"`
	Fixes     []string           `json:"fixes,omitempty"`
	Attempt   int                `json:"attempt"`
}

// StateDelta carries the per-commit continuity mutation derived from a
// generated chapter. Stable character traits are deliberately absent: the
// delta can only touch mutable character state.
type StateDelta struct {
	ProgressDelta      float64                   `json:"progress_delta"`
	CharacterStates    map[string]CharacterState `json:"character_states,omitempty"`
	NewCharacters      []Character               `json:"new_characters,omitempty"`
	NewConflicts       []string                  `json:"new_conflicts,omitempty"`
	ResolvedConflicts  []string                  `json:"resolved_conflicts,omitempty"`
	PlantedHints       []string                  `json:"planted_hints,omitempty"`
	ResolvedHints      []string                  `json:"resolved_hints,omitempty"`
}

// WorkMetadata seeds a new work.
type WorkMetadata struct {
	Title          string      `json:"title"`
	TargetChapters int         `json:"target_chapters"`
	Tropes         []string    `json:"tropes,omitempty"`
	Characters     []Character `json:"characters,omitempty"`
	WorldRules     []string    `json:"world_rules,omitempty"`
}
