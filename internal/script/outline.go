// Package script provides the facilitation outline and the cursor that walks
// it. An outline is a fixed, ordered hierarchy of sections, exercises and
// steps; the cursor is a pure, synchronous walker with no I/O, so turn
// progression stays deterministic and testable apart from the real-time
// machinery.
package script

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("script: duration must be a string like \"90m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("script: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Outline is the full facilitation script: an ordered sequence of sections.
type Outline struct {
	// Title names the overall session.
	Title string `yaml:"title"`

	// Sections in facilitation order.
	Sections []Section `yaml:"sections"`
}

// Section is one thematic block of the session.
type Section struct {
	// ID is a stable identifier, e.g. "understanding_population".
	ID string `yaml:"id"`

	// Title is the human-readable heading.
	Title string `yaml:"title"`

	// Duration is the planned facilitation time for the section.
	Duration Duration `yaml:"duration"`

	// Introduction is spoken when the section is first entered.
	Introduction string `yaml:"introduction"`

	// Exercises in facilitation order.
	Exercises []Exercise `yaml:"exercises"`
}

// Exercise is one activity inside a section.
type Exercise struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Duration    Duration `yaml:"duration"`
	Description string   `yaml:"description"`

	// Steps are the facilitator prompts, delivered one per turn.
	Steps []string `yaml:"steps"`

	// DiscussionPrompts are optional open questions for the group.
	DiscussionPrompts []string `yaml:"discussion_prompts"`
}

// TotalSteps returns the number of steps across the whole outline.
func (o *Outline) TotalSteps() int {
	var n int
	for _, sec := range o.Sections {
		for _, ex := range sec.Exercises {
			n += len(ex.Steps)
		}
	}
	return n
}

// TotalDuration returns the planned length of the whole session.
func (o *Outline) TotalDuration() time.Duration {
	var total time.Duration
	for _, sec := range o.Sections {
		total += sec.Duration.Std()
	}
	return total
}
