package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves-engine/pkg/apperrors"
)

func TestParseRejectionCategory(t *testing.T) {
	tests := []struct {
		notes    string
		category string
		ok       bool
	}{
		{"[TOO_SMALL] box too tiny", "TOO_SMALL", true},
		{"  [wrong_term] that's the tail", "WRONG_TERM", true},
		{"[NOT_REPRESENTATIVE]", "NOT_REPRESENTATIVE", true},
		{"box too tiny", "", false},
		{"too tiny [TOO_SMALL]", "", false},
		{"", "", false},
		{"[] empty brackets", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.notes, func(t *testing.T) {
			category, ok := ParseRejectionCategory(tt.notes)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.category, category)

			// Parsing is idempotent: re-parsing the same notes yields the same category.
			again, _ := ParseRejectionCategory(tt.notes)
			assert.Equal(t, category, again)
		})
	}
}

func TestCategoryOrUncategorized(t *testing.T) {
	assert.Equal(t, RejectionTooSmall, CategoryOrUncategorized("[TOO_SMALL] box too tiny"))
	assert.Equal(t, Uncategorized, CategoryOrUncategorized("box too tiny"))
}

func TestFormatRejectionNotes(t *testing.T) {
	assert.Equal(t, "[WRONG_TERM] this is the tail", FormatRejectionNotes("wrong term", "this is the tail"))
	assert.Equal(t, "[TOO_SMALL]", FormatRejectionNotes("TOO_SMALL", ""))
	assert.Equal(t, "plain reason", FormatRejectionNotes("", " plain reason "))
	assert.Equal(t, "[DUPLICATE] already tagged", FormatRejectionNotes("TOO_SMALL", "[DUPLICATE] already tagged"))

	category, ok := ParseRejectionCategory(FormatRejectionNotes("not-representative", "blurry"))
	assert.True(t, ok)
	assert.Equal(t, RejectionNotRepresentative, category)
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]string{
		"too small":         "TOO_SMALL",
		"TOO_SMALL":         "TOO_SMALL",
		"too.small":         "TOO_SMALL",
		"wrong/term":        "WRONG_TERM",
		" [not-visible] ":   "NOT_VISIBLE",
		"wrong -- position": "WRONG_POSITION",
		"2SMALL":            "2SMALL",
		"[]":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCategory(in), in)
	}
}

func TestValidateCategory_RoundTripsThroughNotes(t *testing.T) {
	for _, in := range []string{"too.small", "wrong/term", "Not Representative", "duplicate", "v2_box"} {
		t.Run(in, func(t *testing.T) {
			category, err := ValidateCategory(in)
			require.NoError(t, err)

			parsed, ok := ParseRejectionCategory(FormatRejectionNotes(category, "x"))
			assert.True(t, ok)
			assert.Equal(t, category, parsed)
		})
	}

	for _, in := range []string{"2SMALL", "...", "[]", "_"} {
		t.Run(in, func(t *testing.T) {
			_, err := ValidateCategory(in)
			var ve *apperrors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Fields, "category")
		})
	}
}

func TestReviewAction_Category(t *testing.T) {
	reject := &ReviewAction{Action: ReviewActionReject, Notes: "[TOO_SMALL] tiny"}
	assert.Equal(t, RejectionTooSmall, reject.Category())

	approve := &ReviewAction{Action: ReviewActionApprove, Notes: "[TOO_SMALL] ignored"}
	assert.Equal(t, "", approve.Category())
}

func TestFeedbackEvent_FeaturePrefersCorrectedTerm(t *testing.T) {
	original := newTestItem()
	corrected := *original
	corrected.EnglishTerm = "bill"

	e := &FeedbackEvent{Kind: FeedbackPositionFix, Original: original, Corrected: &corrected}
	assert.Equal(t, "bill", e.Feature())

	e.Corrected = nil
	assert.Equal(t, "beak", e.Feature())
}
