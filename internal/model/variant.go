package model

import (
	"fmt"
	"strings"
)

// Variant is the canonical question type.
type Variant string

const (
	VariantMultipleChoice  Variant = "multiple-choice"
	VariantTrueFalse       Variant = "true-false"
	VariantShortAnswer     Variant = "short-answer"
	VariantLongAnswer      Variant = "long-answer"
	VariantFillInTheBlank  Variant = "fill-in-the-blank"
	VariantMatching        Variant = "matching"
	VariantAssertionReason Variant = "assertion-reason"
)

// variantAliases maps every spelling seen on the wire (after folding case,
// spaces and underscores into hyphens) to its canonical variant.
var variantAliases = map[string]Variant{
	"multiple-choice":     VariantMultipleChoice,
	"multiplechoice":      VariantMultipleChoice,
	"mcq":                 VariantMultipleChoice,
	"mc":                  VariantMultipleChoice,
	"true-false":          VariantTrueFalse,
	"truefalse":           VariantTrueFalse,
	"true-or-false":       VariantTrueFalse,
	"boolean":             VariantTrueFalse,
	"tf":                  VariantTrueFalse,
	"short-answer":        VariantShortAnswer,
	"shortanswer":         VariantShortAnswer,
	"short":               VariantShortAnswer,
	"long-answer":         VariantLongAnswer,
	"longanswer":          VariantLongAnswer,
	"long":                VariantLongAnswer,
	"essay":               VariantLongAnswer,
	"fill-in-the-blank":   VariantFillInTheBlank,
	"fill-in-the-blanks":  VariantFillInTheBlank,
	"fill-in-blank":       VariantFillInTheBlank,
	"fill-blank":          VariantFillInTheBlank,
	"fillblank":           VariantFillInTheBlank,
	"blank":               VariantFillInTheBlank,
	"matching":            VariantMatching,
	"match":               VariantMatching,
	"match-the-following": VariantMatching,
	"assertion-reason":    VariantAssertionReason,
	"assertionreason":     VariantAssertionReason,
	"ar":                  VariantAssertionReason,
}

// ParseVariant normalizes a question type alias into its canonical variant.
func ParseVariant(raw string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	if v, ok := variantAliases[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, raw)
}

// Objective reports whether answers of this variant can be marked against a
// single correct choice without a teacher.
func (v Variant) Objective() bool {
	switch v {
	case VariantMultipleChoice, VariantTrueFalse, VariantAssertionReason:
		return true
	default:
		return false
	}
}
