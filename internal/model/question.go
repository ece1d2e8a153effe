package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Question is a read-only quiz question in canonical form.
type Question struct {
	ID       uuid.UUID `json:"id"`
	OrderNum int       `json:"order_num"`
	Text     string    `json:"text"`
	Marks    float64   `json:"marks"`
	Content  Content   `json:"-"`
}

// Variant returns the canonical question type.
func (q Question) Variant() Variant {
	if q.Content == nil {
		return ""
	}
	return q.Content.Variant()
}

// Content is the variant-specific payload of a question. The set of
// implementations is closed; only the rendering layer needs to switch on it.
type Content interface {
	Variant() Variant
	isContent()
}

// MultipleChoice has a list of options with one designated correct option.
type MultipleChoice struct {
	Options      []string
	CorrectIndex *int
}

// TrueFalse is answered with "true" or "false".
type TrueFalse struct {
	Correct *bool
}

// ShortAnswer accepts any of the listed answers.
type ShortAnswer struct {
	Accepted []string
}

// LongAnswer is a free-text answer marked by a teacher.
type LongAnswer struct {
	Guideline string
}

// FillInTheBlank accepts one answer per blank.
type FillInTheBlank struct {
	Accepted []string
}

// Matching pairs every left-hand item with a right-hand item.
type Matching struct {
	Left  []string
	Right []string
	Pairs map[string]string
}

// AssertionReason presents an assertion, a reason and a fixed set of choices.
type AssertionReason struct {
	Assertion    string
	Reason       string
	Options      []string
	CorrectIndex *int
}

func (MultipleChoice) Variant() Variant { return VariantMultipleChoice }
func (TrueFalse) Variant() Variant { return VariantTrueFalse }
func (ShortAnswer) Variant() Variant { return VariantShortAnswer }
func (LongAnswer) Variant() Variant { return VariantLongAnswer }
func (FillInTheBlank) Variant() Variant { return VariantFillInTheBlank }
func (Matching) Variant() Variant { return VariantMatching }
func (AssertionReason) Variant() Variant { return VariantAssertionReason }

func (MultipleChoice) isContent() {}
func (TrueFalse) isContent() {}
func (ShortAnswer) isContent() {}
func (LongAnswer) isContent() {}
func (FillInTheBlank) isContent() {}
func (Matching) isContent() {}
func (AssertionReason) isContent() {}

// QuestionDTO is the wire shape of a question. Upstream data carries two
// parallel spellings for text and type; the primary one wins when both are set.
type QuestionDTO struct {
	ID            uuid.UUID       `json:"id"`
	OrderNum      int             `json:"order_num"`
	Type          string          `json:"type,omitempty"`
	QuestionType  string          `json:"question_type,omitempty"`
	Text          string          `json:"text,omitempty"`
	QuestionText  string          `json:"question_text,omitempty"`
	Marks         float64         `json:"marks"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
}

// ResolvedType returns the type alias, preferring `type` over `question_type`.
func (d QuestionDTO) ResolvedType() string {
	if d.Type != "" {
		return d.Type
	}
	return d.QuestionType
}

// ResolvedText returns the question text, preferring `text` over `question_text`.
func (d QuestionDTO) ResolvedText() string {
	if d.Text != "" {
		return d.Text
	}
	return d.QuestionText
}

// ToQuestion normalizes the wire question into its canonical form.
func (d QuestionDTO) ToQuestion() (Question, error) {
	variant, err := ParseVariant(d.ResolvedType())
	if err != nil {
		return Question{}, fmt.Errorf("question %s: %w", d.ID, err)
	}
	content, err := DecodeContent(variant, d.Options, d.CorrectAnswer)
	if err != nil {
		return Question{}, fmt.Errorf("question %s: %w", d.ID, err)
	}
	return Question{
		ID:       d.ID,
		OrderNum: d.OrderNum,
		Text:     d.ResolvedText(),
		Marks:    d.Marks,
		Content:  content,
	}, nil
}

// matchingOptions is the wire shape of matching options.
type matchingOptions struct {
	Left  []string `json:"left"`
	Right []string `json:"right"`
}

// assertionOptions is the wire shape of assertion-reason options.
type assertionOptions struct {
	Assertion string   `json:"assertion"`
	Reason    string   `json:"reason"`
	Choices   []string `json:"choices"`
}

// DecodeContent builds the variant payload from the raw options and correct
// answer fields. An absent correct answer is allowed: student-facing payloads
// have it stripped.
func DecodeContent(variant Variant, options, correct json.RawMessage) (Content, error) {
	switch variant {
	case VariantMultipleChoice:
		var c MultipleChoice
		if err := decodeOptional(options, &c.Options); err != nil {
			return nil, fmt.Errorf("%w: options: %v", ErrInvalidContent, err)
		}
		idx, err := decodeChoice(correct, c.Options)
		if err != nil {
			return nil, err
		}
		c.CorrectIndex = idx
		return c, nil

	case VariantTrueFalse:
		var c TrueFalse
		if !isAbsent(correct) {
			b, err := decodeBool(correct)
			if err != nil {
				return nil, err
			}
			c.Correct = &b
		}
		return c, nil

	case VariantShortAnswer:
		var c ShortAnswer
		accepted, err := decodeStrings(correct)
		if err != nil {
			return nil, err
		}
		c.Accepted = accepted
		return c, nil

	case VariantLongAnswer:
		var c LongAnswer
		if err := decodeOptional(correct, &c.Guideline); err != nil {
			return nil, fmt.Errorf("%w: guideline: %v", ErrInvalidContent, err)
		}
		return c, nil

	case VariantFillInTheBlank:
		var c FillInTheBlank
		accepted, err := decodeStrings(correct)
		if err != nil {
			return nil, err
		}
		c.Accepted = accepted
		return c, nil

	case VariantMatching:
		var opts matchingOptions
		if err := decodeOptional(options, &opts); err != nil {
			return nil, fmt.Errorf("%w: options: %v", ErrInvalidContent, err)
		}
		c := Matching{Left: opts.Left, Right: opts.Right}
		if err := decodeOptional(correct, &c.Pairs); err != nil {
			return nil, fmt.Errorf("%w: pairs: %v", ErrInvalidContent, err)
		}
		return c, nil

	case VariantAssertionReason:
		var opts assertionOptions
		if err := decodeOptional(options, &opts); err != nil {
			return nil, fmt.Errorf("%w: options: %v", ErrInvalidContent, err)
		}
		c := AssertionReason{Assertion: opts.Assertion, Reason: opts.Reason, Options: opts.Choices}
		idx, err := decodeChoice(correct, c.Options)
		if err != nil {
			return nil, err
		}
		c.CorrectIndex = idx
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeOptional(raw json.RawMessage, dst any) error {
	if isAbsent(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// decodeChoice accepts either an option index or the option text.
func decodeChoice(raw json.RawMessage, options []string) (*int, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var idx int
	if err := json.Unmarshal(raw, &idx); err == nil {
		if idx < 0 || idx >= len(options) {
			return nil, fmt.Errorf("%w: correct option %d out of range", ErrInvalidContent, idx)
		}
		return &idx, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("%w: correct option: %v", ErrInvalidContent, err)
	}
	for i, opt := range options {
		if opt == text {
			return &i, nil
		}
	}
	return nil, fmt.Errorf("%w: correct option %q not among options", ErrInvalidContent, text)
}

func decodeBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("%w: true/false answer: %v", ErrInvalidContent, err)
	}
	switch s {
	case "true", "True", "TRUE":
		return true, nil
	case "false", "False", "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("%w: true/false answer %q", ErrInvalidContent, s)
}

// decodeStrings accepts a single string or an array of strings.
func decodeStrings(raw json.RawMessage) ([]string, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("%w: accepted answers: %v", ErrInvalidContent, err)
	}
	return []string{single}, nil
}
