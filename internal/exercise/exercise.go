package exercise

import (
	"fmt"
	"strings"
)

// Exercise is one phrase in the target language with its romanization and
// English translation.
type Exercise struct {
	Native      string `json:"native" yaml:"native"`
	Romanized   string `json:"romanized" yaml:"romanized"`
	Translation string `json:"translation" yaml:"translation"`
}

// ReferenceForm selects which written form of an exercise is displayed and
// therefore used as the reference text for scoring.
type ReferenceForm string

const (
	FormRomanized ReferenceForm = "romanized"
	FormNative    ReferenceForm = "native"
)

// Reference returns the text of the exercise in the requested form. Exercises
// without a romanization (Latin-script languages) fall back to the native form.
func (e Exercise) Reference(form ReferenceForm) string {
	if form == FormRomanized && strings.TrimSpace(e.Romanized) != "" {
		return e.Romanized
	}
	return e.Native
}

// Difficulty is the learner level requested from the generator.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyElementary   Difficulty = "elementary"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyFluent       Difficulty = "fluent"
)

// Difficulties lists the supported levels in increasing order.
var Difficulties = []Difficulty{
	DifficultyBeginner,
	DifficultyElementary,
	DifficultyIntermediate,
	DifficultyAdvanced,
	DifficultyFluent,
}

// ParseDifficulty accepts a level name case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	candidate := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	for _, d := range Difficulties {
		if d == candidate {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown difficulty %q (valid: beginner, elementary, intermediate, advanced, fluent)", s)
}

// Set is the ordered collection of exercises generated for one request. A Set
// is never mutated once built.
type Set struct {
	Topic         string     `json:"topic" yaml:"topic"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
	LanguageLabel string     `json:"language" yaml:"language"`
	LanguageCode  string     `json:"language_code" yaml:"language_code"`
	Exercises     []Exercise `json:"exercises" yaml:"exercises"`
}

// Len returns the number of exercises in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Exercises)
}

// At returns the exercise at index i.
func (s *Set) At(i int) (Exercise, bool) {
	if s == nil || i < 0 || i >= len(s.Exercises) {
		return Exercise{}, false
	}
	return s.Exercises[i], true
}

// Clone returns a deep copy so callers cannot alias the exercise slice.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	out := *s
	out.Exercises = make([]Exercise, len(s.Exercises))
	copy(out.Exercises, s.Exercises)
	return &out
}
