package script

import (
	"strings"
	"testing"
	"time"
)

const validOutlineYAML = `
title: Mini Session
sections:
  - id: opening
    title: Opening
    duration: 45m
    introduction: Hello.
    exercises:
      - id: opening_a
        title: Icebreaker
        duration: 15m
        description: Break the ice.
        steps:
          - say hello
          - say it again
        discussion_prompts:
          - how did that feel?
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	o, err := LoadFromReader(strings.NewReader(validOutlineYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if o.Title != "Mini Session" {
		t.Errorf("title = %q", o.Title)
	}
	if len(o.Sections) != 1 {
		t.Fatalf("sections = %d; want 1", len(o.Sections))
	}
	sec := o.Sections[0]
	if sec.Duration.Std() != 45*time.Minute {
		t.Errorf("section duration = %v; want 45m", sec.Duration.Std())
	}
	if got := o.TotalSteps(); got != 2 {
		t.Errorf("TotalSteps = %d; want 2", got)
	}
	if got := o.TotalDuration(); got != 45*time.Minute {
		t.Errorf("TotalDuration = %v; want 45m", got)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("title: x\nbogus_field: y\nsections: []\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadFromReader_RejectsBadDuration(t *testing.T) {
	t.Parallel()

	bad := strings.Replace(validOutlineYAML, "duration: 45m", "duration: ninety minutes", 1)
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("unparseable duration accepted")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	o := &Outline{Sections: []Section{
		{ID: "dup", Exercises: []Exercise{{ID: "a", Steps: []string{"s"}}}},
		{ID: "dup", Exercises: []Exercise{{ID: ""}}},
		{ID: "empty"},
	}}
	err := Validate(o)
	if err == nil {
		t.Fatal("invalid outline accepted")
	}
	msg := err.Error()
	for _, want := range []string{"duplicate", "id is required", "no steps", "no exercises"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidate_EmptyOutline(t *testing.T) {
	t.Parallel()

	if err := Validate(&Outline{}); err == nil {
		t.Fatal("empty outline accepted")
	}
}

func TestDefault_EmbeddedOutline(t *testing.T) {
	t.Parallel()

	o := Default()
	if len(o.Sections) != 8 {
		t.Fatalf("default outline sections = %d; want 8", len(o.Sections))
	}

	wantIDs := []string{
		"introduction",
		"understanding_population",
		"assessing_service",
		"enhancing_competence",
		"improving_access",
		"monitoring",
		"workforce_development",
		"action_planning",
	}
	for i, want := range wantIDs {
		if got := o.Sections[i].ID; got != want {
			t.Errorf("section %d id = %q; want %q", i, got, want)
		}
	}

	if got, want := o.TotalDuration(), 9*time.Hour; got != want {
		t.Errorf("TotalDuration = %v; want %v", got, want)
	}

	// The embedded outline must always be walkable end to end.
	c, err := NewCursor(o)
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	steps := 1
	for c.Advance() {
		steps++
	}
	if steps != o.TotalSteps() {
		t.Errorf("walked %d steps; outline has %d", steps, o.TotalSteps())
	}
}
