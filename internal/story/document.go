package story

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	serrors "github.com/vampirenirmal/serialist/pkg/serial/errors"
)

var validate = validator.New()

// ValidateWorkDocument checks the fixed metadata schema a work document must
// satisfy before it is handed to the presentation layer.
func ValidateWorkDocument(w *Work) error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("%w: work %s: %v", serrors.ErrSchemaViolation, w.ID, err)
	}
	return nil
}

// ValidateChapterDocument checks the chapter document schema. Violations are
// rejected before hand-off rather than at render time.
func ValidateChapterDocument(ch *Chapter) error {
	if err := validate.Struct(ch); err != nil {
		return fmt.Errorf("%w: chapter %d: %v", serrors.ErrSchemaViolation, ch.Number, err)
	}
	if ch.WordCount != len(strings.Fields(ch.Body)) {
		return fmt.Errorf("%w: chapter %d: word count %d does not match body",
			serrors.ErrSchemaViolation, ch.Number, ch.WordCount)
	}
	return nil
}

// ValidateState checks structural invariants of a continuity record before
// it is rewritten at the end of a commit.
func ValidateState(s *StoryState) error {
	if err := validate.Struct(&s.Work); err != nil {
		return fmt.Errorf("%w: state for %s: %v", serrors.ErrSchemaViolation, s.Work.ID, err)
	}
	if s.PlotProgress < 0 || s.PlotProgress > 100 {
		return fmt.Errorf("%w: plot progress %.1f out of range", serrors.ErrSchemaViolation, s.PlotProgress)
	}
	if s.CurrentChapter < 0 {
		return fmt.Errorf("%w: negative chapter count", serrors.ErrSchemaViolation)
	}
	seen := make(map[string]bool, len(s.Characters))
	for _, c := range s.Characters {
		if c.Name == "" {
			return fmt.Errorf("%w: unnamed character", serrors.ErrSchemaViolation)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate character %q", serrors.ErrSchemaViolation, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
