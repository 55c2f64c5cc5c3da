package model

import (
	"encoding/json"
	"fmt"
)

// ActivityType enumerates slide kinds. Everything except ActivityContent
// expects an answer from the student.
type ActivityType string

const (
	ActivityContent        ActivityType = "content"
	ActivitySingleChoice   ActivityType = "single_choice"
	ActivityMultipleChoice ActivityType = "multiple_choice"
	ActivityOpenText       ActivityType = "open_text"
)

// Option is one selectable choice of a choice slide.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Slide is one page of the deck. Rendering details live with the UI; the
// session protocol only needs identity, type, options and the answer key.
type Slide struct {
	ID               string       `json:"id"`
	Type             ActivityType `json:"type"`
	Title            string       `json:"title"`
	Body             string       `json:"body,omitempty"`
	Options          []Option     `json:"options,omitempty"`
	CorrectOptionIDs []string     `json:"correctOptionIds,omitempty"`
	CorrectAnswer    string       `json:"correctAnswer,omitempty"`
	Points           int          `json:"points"`
}

// RequiresAnswer reports whether navigation away from the slide is gated on an answer.
func (s Slide) RequiresAnswer() bool {
	return s.Type != ActivityContent
}

// HasOption reports whether id is one of the slide's options.
func (s Slide) HasOption(id string) bool {
	for _, o := range s.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Quiz is the deck a session presents.
type Quiz struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

// Validate checks the structural rules a deck must satisfy before a session can run it.
func (q Quiz) Validate() error {
	if len(q.Slides) == 0 {
		return fmt.Errorf("quiz %q has no slides", q.Title)
	}
	seen := make(map[string]bool, len(q.Slides))
	for i, s := range q.Slides {
		if s.ID == "" {
			return fmt.Errorf("slide %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate slide id %q", s.ID)
		}
		seen[s.ID] = true

		switch s.Type {
		case ActivityContent, ActivityOpenText:
		case ActivitySingleChoice, ActivityMultipleChoice:
			if len(s.CorrectOptionIDs) == 0 {
				return fmt.Errorf("slide %q has no correct option", s.ID)
			}
			if s.Type == ActivitySingleChoice && len(s.CorrectOptionIDs) != 1 {
				return fmt.Errorf("slide %q must have exactly one correct option", s.ID)
			}
			for _, id := range s.CorrectOptionIDs {
				if !s.HasOption(id) {
					return fmt.Errorf("slide %q: correct option %q is not an option", s.ID, id)
				}
			}
		default:
			return fmt.Errorf("slide %q: unknown activity type %q", s.ID, s.Type)
		}
	}
	return nil
}

// Answer is the activity-specific payload of a response. Each activity type
// carries its own shape; reconciliation only looks at the response envelope.
type Answer interface {
	Activity() ActivityType
	Empty() bool
}

// ChoiceAnswer is the selected option id of a single_choice slide.
type ChoiceAnswer string

func (ChoiceAnswer) Activity() ActivityType { return ActivitySingleChoice }
func (a ChoiceAnswer) Empty() bool          { return a == "" }

// MultiChoiceAnswer is the set of option ids picked on a multiple_choice slide.
type MultiChoiceAnswer []string

func (MultiChoiceAnswer) Activity() ActivityType { return ActivityMultipleChoice }
func (a MultiChoiceAnswer) Empty() bool          { return len(a) == 0 }

// TextAnswer is free text typed on an open_text slide.
type TextAnswer string

func (TextAnswer) Activity() ActivityType { return ActivityOpenText }
func (a TextAnswer) Empty() bool          { return a == "" }

// RawAnswer keeps payloads of activity types this build does not know, so
// they survive a read-modify-write untouched.
type RawAnswer struct {
	Type ActivityType
	Data json.RawMessage
}

func (a RawAnswer) Activity() ActivityType { return a.Type }
func (a RawAnswer) Empty() bool            { return len(a.Data) == 0 || string(a.Data) == "null" }

func decodeAnswer(t ActivityType, data json.RawMessage) (Answer, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	switch t {
	case ActivitySingleChoice:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("single_choice answer: %w", err)
		}
		return ChoiceAnswer(s), nil
	case ActivityMultipleChoice:
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, fmt.Errorf("multiple_choice answer: %w", err)
		}
		return MultiChoiceAnswer(ids), nil
	case ActivityOpenText:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("open_text answer: %w", err)
		}
		return TextAnswer(s), nil
	default:
		return RawAnswer{Type: t, Data: append(json.RawMessage(nil), data...)}, nil
	}
}

func encodeAnswer(a Answer) (json.RawMessage, error) {
	switch v := a.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case RawAnswer:
		return v.Data, nil
	case ChoiceAnswer:
		return json.Marshal(string(v))
	case TextAnswer:
		return json.Marshal(string(v))
	case MultiChoiceAnswer:
		return json.Marshal([]string(v))
	default:
		return json.Marshal(v)
	}
}
