package exercise

import (
	"context"
	"strings"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/validate"
)

// Request is what the learner picks before a set is generated.
type Request struct {
	Topic      string     `json:"topic" validate:"required,max=200"`
	Difficulty Difficulty `json:"difficulty" validate:"required,oneof=beginner elementary intermediate advanced fluent"`
	Language   string     `json:"language" validate:"required"`
}

// Generator produces an exercise set for a request. Implementations surface
// upstream errors unchanged in meaning and never retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Set, error)
}

var requestValidator = validate.NewValidator()

// Normalize validates the request and resolves its language against the
// locale table.
func (r Request) Normalize() (Request, Language, error) {
	r.Topic = strings.TrimSpace(r.Topic)
	r.Difficulty = Difficulty(strings.ToLower(string(r.Difficulty)))

	if err := requestValidator.Struct(r); err != nil {
		if fe, ok := err.(*validate.FieldsError); ok {
			return r, Language{}, errors.Validation("invalid exercise request").
				WithDetails(map[string]interface{}{"fields": fe.Fields})
		}
		return r, Language{}, errors.Validation(err.Error())
	}

	lang, ok := LookupLanguage(r.Language)
	if !ok {
		return r, Language{}, errors.Validation("unsupported language: " + r.Language)
	}
	r.Language = lang.Label

	return r, lang, nil
}
