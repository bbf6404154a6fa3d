package script

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_outline.yaml
var defaultOutlineYAML []byte

// Default returns the built-in cultural-competency facilitation outline.
func Default() *Outline {
	o, err := LoadFromReader(bytes.NewReader(defaultOutlineYAML))
	if err != nil {
		// The embedded outline is validated by the package tests; failing to
		// parse it is a build defect, not a runtime condition.
		panic(fmt.Sprintf("script: embedded outline invalid: %v", err))
	}
	return o
}

// Load reads the YAML outline file at path and returns a validated [Outline].
func Load(path string) (*Outline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()

	o, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", path, err)
	}
	return o, nil
}

// LoadFromReader decodes a YAML outline from r and validates the result.
func LoadFromReader(r io.Reader) (*Outline, error) {
	o := &Outline{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		return nil, fmt.Errorf("script: decode yaml: %w", err)
	}
	if err := Validate(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks that o forms a walkable outline. It returns a joined error
// listing all validation failures found.
func Validate(o *Outline) error {
	var errs []error

	if len(o.Sections) == 0 {
		errs = append(errs, errors.New("outline has no sections"))
	}

	sectionIDs := make(map[string]int, len(o.Sections))
	for i, sec := range o.Sections {
		prefix := fmt.Sprintf("sections[%d]", i)
		if sec.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := sectionIDs[sec.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of sections[%d]", prefix, sec.ID, prev))
			}
			sectionIDs[sec.ID] = i
		}
		if len(sec.Exercises) == 0 {
			errs = append(errs, fmt.Errorf("%s (%s) has no exercises", prefix, sec.ID))
		}
		for j, ex := range sec.Exercises {
			exPrefix := fmt.Sprintf("%s.exercises[%d]", prefix, j)
			if ex.ID == "" {
				errs = append(errs, fmt.Errorf("%s.id is required", exPrefix))
			}
			if len(ex.Steps) == 0 {
				errs = append(errs, fmt.Errorf("%s (%s) has no steps", exPrefix, ex.ID))
			}
		}
	}

	return errors.Join(errs...)
}
