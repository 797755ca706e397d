package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aves-app/aves-engine/pkg/apperrors"
)

// ReviewActionType names a reviewer decision.
type ReviewActionType string

const (
	ReviewActionApprove     ReviewActionType = "approve"
	ReviewActionReject      ReviewActionType = "reject"
	ReviewActionEdit        ReviewActionType = "edit"
	ReviewActionBulkApprove ReviewActionType = "bulk_approve"
)

// Rejection categories reviewers pick from. Any bracketed upper-case token is accepted.
const (
	RejectionTooSmall          = "TOO_SMALL"
	RejectionNotRepresentative = "NOT_REPRESENTATIVE"
	RejectionWrongTerm         = "WRONG_TERM"
	RejectionWrongPosition     = "WRONG_POSITION"
	RejectionDuplicate         = "DUPLICATE"
	RejectionNotVisible        = "NOT_VISIBLE"
)

// Uncategorized labels rejections whose notes carry no bracketed category.
const Uncategorized = "UNCATEGORIZED"

var rejectionCategoryPattern = regexp.MustCompile(`^\s*\[([A-Za-z][A-Za-z0-9_]*)\]`)

// ParseRejectionCategory extracts the bracketed category prefix from notes,
// e.g. "[TOO_SMALL] box too tiny" yields ("TOO_SMALL", true).
func ParseRejectionCategory(notes string) (string, bool) {
	m := rejectionCategoryPattern.FindStringSubmatch(notes)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// CategoryOrUncategorized is ParseRejectionCategory collapsed to a single label.
func CategoryOrUncategorized(notes string) string {
	if c, ok := ParseRejectionCategory(notes); ok {
		return c
	}
	return Uncategorized
}

// NormalizeCategory upper-cases a caller-supplied category and turns every
// run of characters other than ASCII letters and digits into one underscore
// ("too small" -> "TOO_SMALL", "wrong/term" -> "WRONG_TERM").
func NormalizeCategory(category string) string {
	words := strings.FieldsFunc(category, func(r rune) bool {
		return !isCategoryRune(r)
	})
	return strings.ToUpper(strings.Join(words, "_"))
}

func isCategoryRune(r rune) bool {
	return ('A' <= r && r <= 'Z') || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9')
}

var categoryNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateCategory normalizes category and rejects names that would not parse
// back out of a bracketed prefix, such as ones starting with a digit.
func ValidateCategory(category string) (string, error) {
	normalized := NormalizeCategory(category)
	if !categoryNamePattern.MatchString(normalized) {
		return "", apperrors.NewValidationError("category",
			fmt.Sprintf("invalid category %q: must start with a letter and contain only letters, digits and separators", category))
	}
	return normalized, nil
}

// FormatRejectionNotes embeds category as a bracketed prefix of text.
// Notes that already carry a bracketed prefix are left alone.
func FormatRejectionNotes(category, text string) string {
	text = strings.TrimSpace(text)
	category = NormalizeCategory(category)
	if category == "" {
		return text
	}
	if _, ok := ParseRejectionCategory(text); ok {
		return text
	}
	if text == "" {
		return "[" + category + "]"
	}
	return "[" + category + "] " + text
}

// ReviewAction is the append-only audit record of a reviewer decision.
type ReviewAction struct {
	ID            uuid.UUID        `json:"id"`
	JobID         *uuid.UUID       `json:"jobId,omitempty"`
	ItemID        *uuid.UUID       `json:"annotationId,omitempty"`
	Action        ReviewActionType `json:"action"`
	AffectedItems int              `json:"affectedItems"`
	Notes         string           `json:"notes,omitempty"`
	Reviewer      string           `json:"reviewer"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Category returns the parsed rejection category, or "" for non-rejections
// and uncategorized rejections.
func (a *ReviewAction) Category() string {
	if a.Action != ReviewActionReject {
		return ""
	}
	c, _ := ParseRejectionCategory(a.Notes)
	return c
}

// FeedbackKind is the learning signal a review produced.
type FeedbackKind string

const (
	FeedbackApprove     FeedbackKind = "approve"
	FeedbackReject      FeedbackKind = "reject"
	FeedbackPositionFix FeedbackKind = "position_fix"
)

// FeedbackEvent carries one reviewer outcome to the pattern learning engine.
type FeedbackEvent struct {
	Kind      FeedbackKind    `json:"kind"`
	Species   string          `json:"species"`
	ImageID   string          `json:"imageId"`
	ItemID    uuid.UUID       `json:"annotationId"`
	Original  *AnnotationItem `json:"original"`
	Corrected *AnnotationItem `json:"corrected,omitempty"`
	// Category is set for rejections; empty means uncategorized.
	Category   string    `json:"category,omitempty"`
	Reviewer   string    `json:"reviewer"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Feature returns the term the event is about, preferring the corrected term.
func (e *FeedbackEvent) Feature() string {
	if e.Corrected != nil && e.Corrected.EnglishTerm != "" {
		return e.Corrected.EnglishTerm
	}
	if e.Original != nil {
		return e.Original.EnglishTerm
	}
	return ""
}
