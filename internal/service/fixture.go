package service

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/stemsi/exstem-session/internal/model"
)

// Fixture is the content served by the mock server: who may log in and
// which exams exist, answer keys included.
type Fixture struct {
	Students []FixtureStudent `yaml:"students"`
	Proctors []FixtureProctor `yaml:"proctors"`
	Exams    []FixtureExam    `yaml:"exams"`
}

type FixtureStudent struct {
	ID       int    `yaml:"id"`
	NISN     string `yaml:"nisn"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type FixtureProctor struct {
	ID          int      `yaml:"id"`
	Email       string   `yaml:"email"`
	Name        string   `yaml:"name"`
	Password    string   `yaml:"password"`
	Permissions []string `yaml:"permissions"`
}

type FixtureExam struct {
	ID              string            `yaml:"id"`
	Title           string            `yaml:"title"`
	DurationMinutes int               `yaml:"duration_minutes"`
	Questions       []FixtureQuestion `yaml:"questions"`

	uuid uuid.UUID
}

// UUID is the parsed exam id. Valid after Validate.
func (e FixtureExam) UUID() uuid.UUID { return e.uuid }

type FixtureQuestion struct {
	ID     int64              `yaml:"id"`
	Type   model.QuestionType `yaml:"type"`
	Prompt string             `yaml:"prompt"`
	// Accepted lists the accepted texts of a FILL_BLANK question.
	Accepted []string        `yaml:"accepted,omitempty"`
	Options  []FixtureOption `yaml:"options,omitempty"`
}

// FixtureOption is an answer option plus its key. Correct marks select
// answers, Position the 1-based place in a REORDER answer, and a matching
// prompt is correct when paired with the target sharing its MatchGroupID.
type FixtureOption struct {
	ID           int64           `yaml:"id"`
	Content      string          `yaml:"content"`
	ImageRef     *string         `yaml:"image_ref,omitempty"`
	Correct      bool            `yaml:"correct,omitempty"`
	Position     int             `yaml:"position,omitempty"`
	MatchGroupID *int64          `yaml:"match_group_id,omitempty"`
	MatchRole    model.MatchRole `yaml:"match_role,omitempty"`
}

// LoadFixture reads and validates a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates YAML fixture content.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids and question shapes.
func (f *Fixture) Validate() error {
	if len(f.Exams) == 0 {
		return errors.New("fixture has no exams")
	}

	students := make(map[int]struct{}, len(f.Students))
	for _, s := range f.Students {
		if _, dup := students[s.ID]; dup || s.ID <= 0 {
			return fmt.Errorf("student %d: id must be positive and unique", s.ID)
		}
		students[s.ID] = struct{}{}
	}

	for i := range f.Exams {
		e := &f.Exams[i]
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("exam %q: %w", e.ID, err)
		}
		e.uuid = id
		if e.DurationMinutes <= 0 {
			return fmt.Errorf("exam %s: duration_minutes must be positive", e.ID)
		}

		questions := make(map[int64]struct{}, len(e.Questions))
		options := make(map[int64]struct{})
		for _, q := range e.Questions {
			if _, dup := questions[q.ID]; dup {
				return fmt.Errorf("exam %s: duplicate question %d", e.ID, q.ID)
			}
			questions[q.ID] = struct{}{}
			for _, o := range q.Options {
				if _, dup := options[o.ID]; dup {
					return fmt.Errorf("exam %s: duplicate option %d", e.ID, o.ID)
				}
				options[o.ID] = struct{}{}
			}
			if err := q.model(0).Validate(model.NewOptionSet(q.answerOptions())); err != nil {
				return fmt.Errorf("exam %s: %w", e.ID, err)
			}
		}
	}
	return nil
}

func (q FixtureQuestion) model(orderIndex int) model.Question {
	return model.Question{ID: q.ID, Type: q.Type, Prompt: q.Prompt, OrderIndex: orderIndex}
}

// answerOptions strips the key from the options. Match groups are part of
// the key, so they are not served either.
func (q FixtureQuestion) answerOptions() []model.AnswerOption {
	out := make([]model.AnswerOption, 0, len(q.Options))
	for _, o := range q.Options {
		out = append(out, model.AnswerOption{
			ID:         o.ID,
			QuestionID: q.ID,
			Content:    o.Content,
			ImageRef:  o.ImageRef,
			MatchRole: o.MatchRole,
		})
	}
	return out
}

//go:embed fixtures/default.yaml
var defaultFixture []byte

// DefaultFixture is the built-in demo exam.
func DefaultFixture() (*Fixture, error) {
	return ParseFixture(defaultFixture)
}
