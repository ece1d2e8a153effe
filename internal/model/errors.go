package model

import "errors"

var (
	// ErrUnknownVariant is returned for a question type alias with no canonical variant.
	ErrUnknownVariant = errors.New("unknown question variant")
	// ErrInvalidContent is returned when the variant payload cannot be decoded.
	ErrInvalidContent = errors.New("invalid question content")
)
