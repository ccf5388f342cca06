package exercise

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

// FileGenerator serves a prepared exercise set from a YAML file, ignoring the
// request topic. Useful offline and for classroom sets.
type FileGenerator struct {
	path string
}

// NewFileGenerator creates a generator reading from path on every call.
func NewFileGenerator(path string) *FileGenerator {
	return &FileGenerator{path: path}
}

// Generate implements Generator.
func (g *FileGenerator) Generate(ctx context.Context, req Request) (*Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set, err := LoadSetFile(g.path)
	if err != nil {
		return nil, errors.Generation("failed to load exercise file", err)
	}

	// Request fields override the file header when provided.
	if strings.TrimSpace(req.Topic) != "" {
		set.Topic = strings.TrimSpace(req.Topic)
	}
	if req.Difficulty != "" {
		set.Difficulty = req.Difficulty
	}
	return set, nil
}

// LoadSetFile reads and validates an exercise set stored as YAML.
func LoadSetFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading exercise file %s: %w", path, err)
	}

	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("error parsing exercise file %s: %w", path, err)
	}

	if len(set.Exercises) == 0 {
		return nil, fmt.Errorf("exercise file %s contains no exercises", path)
	}
	for i, ex := range set.Exercises {
		if strings.TrimSpace(ex.Native) == "" {
			return nil, fmt.Errorf("exercises[%d]: 'native' is required", i)
		}
	}

	if set.LanguageCode == "" || set.LanguageLabel == "" {
		lookup := set.LanguageCode
		if lookup == "" {
			lookup = set.LanguageLabel
		}
		lang, ok := LookupLanguage(lookup)
		if !ok {
			return nil, fmt.Errorf("exercise file %s: unknown language %q", path, lookup)
		}
		set.LanguageCode = lang.Code
		set.LanguageLabel = lang.Label
	}

	return &set, nil
}

// WriteSetFile stores a set in the format LoadSetFile reads.
func WriteSetFile(path string, set *Set) error {
	out, err := yaml.Marshal(set)
	if err != nil {
		return fmt.Errorf("error marshaling exercise set: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("error writing exercise file %s: %w", path, err)
	}
	return nil
}
