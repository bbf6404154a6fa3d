package script

import (
	"fmt"
	"time"
)

// Position locates the cursor within an outline as zero-based indexes.
type Position struct {
	Section  int
	Exercise int
	Step     int
}

// String renders the position for logs.
func (p Position) String() string {
	return fmt.Sprintf("%d.%d.%d", p.Section, p.Exercise, p.Step)
}

// Cursor walks an outline one step at a time. It is purely synchronous and
// performs no I/O; callers that share a cursor across goroutines must
// serialise access themselves.
type Cursor struct {
	outline *Outline
	pos     Position
}

// NewCursor creates a cursor at the start of a validated outline.
func NewCursor(o *Outline) (*Cursor, error) {
	if err := Validate(o); err != nil {
		return nil, fmt.Errorf("script: invalid outline: %w", err)
	}
	return &Cursor{outline: o}, nil
}

// Position returns the current location.
func (c *Cursor) Position() Position { return c.pos }

// Section returns the current section.
func (c *Cursor) Section() Section { return c.outline.Sections[c.pos.Section] }

// Exercise returns the current exercise.
func (c *Cursor) Exercise() Exercise { return c.Section().Exercises[c.pos.Exercise] }

// Step returns the current step text.
func (c *Cursor) Step() string { return c.Exercise().Steps[c.pos.Step] }

// Prompt returns the facilitator text for the current position. On the first
// step of an exercise it introduces the exercise (prefixed with the section
// introduction when the exercise opens the section); afterwards it continues
// with the current step.
func (c *Cursor) Prompt() string {
	sec := c.Section()
	ex := c.Exercise()

	if c.pos.Step == 0 {
		if c.pos.Exercise == 0 {
			return fmt.Sprintf("%s\n\nLet's begin with the first exercise: %s.\n%s",
				sec.Introduction, ex.Title, ex.Description)
		}
		return fmt.Sprintf("Let's move on to the next exercise: %s.\n%s", ex.Title, ex.Description)
	}
	return fmt.Sprintf("Let's continue with the next step: %s", c.Step())
}

// Advance moves one step forward, cascading into the next exercise and then
// the next section when the current one is exhausted. It returns false, and
// stays put, once the final step of the final exercise of the final section
// has been reached; further calls keep returning false.
func (c *Cursor) Advance() bool {
	if c.pos.Step < len(c.Exercise().Steps)-1 {
		c.pos.Step++
		return true
	}
	return c.advanceExercise()
}

func (c *Cursor) advanceExercise() bool {
	if c.pos.Exercise < len(c.Section().Exercises)-1 {
		c.pos.Exercise++
		c.pos.Step = 0
		return true
	}
	return c.advanceSection()
}

func (c *Cursor) advanceSection() bool {
	if c.pos.Section < len(c.outline.Sections)-1 {
		c.pos.Section++
		c.pos.Exercise = 0
		c.pos.Step = 0
		return true
	}
	return false
}

// Done reports whether the cursor sits on the outline's terminal step.
func (c *Cursor) Done() bool {
	return c.pos.Section == len(c.outline.Sections)-1 &&
		c.pos.Exercise == len(c.Section().Exercises)-1 &&
		c.pos.Step == len(c.Exercise().Steps)-1
}

// Reset returns the cursor to the start of the outline.
func (c *Cursor) Reset() { c.pos = Position{} }

// Progress returns the fraction of steps completed, in [0, 1]. The step the
// cursor currently sits on counts as not yet completed.
func (c *Cursor) Progress() float64 {
	total := c.outline.TotalSteps()
	if total == 0 {
		return 0
	}
	var done int
	for i, sec := range c.outline.Sections {
		for j, ex := range sec.Exercises {
			switch {
			case i < c.pos.Section || (i == c.pos.Section && j < c.pos.Exercise):
				done += len(ex.Steps)
			case i == c.pos.Section && j == c.pos.Exercise:
				done += c.pos.Step
			}
		}
	}
	return float64(done) / float64(total)
}

// DiscussionPrompts returns the open questions for the current exercise,
// empty when it has none.
func (c *Cursor) DiscussionPrompts() []string {
	return c.Exercise().DiscussionPrompts
}

// TimeRemaining returns the planned duration of the sections not yet
// completed, including the current one.
func (c *Cursor) TimeRemaining() time.Duration {
	var remaining time.Duration
	for _, sec := range c.outline.Sections[c.pos.Section:] {
		remaining += sec.Duration.Std()
	}
	return remaining
}
