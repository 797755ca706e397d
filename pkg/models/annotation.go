package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aves-app/aves-engine/pkg/apperrors"
)

// AnnotationType classifies what kind of bird feature an annotation labels.
type AnnotationType string

const (
	AnnotationTypeAnatomical AnnotationType = "anatomical"
	AnnotationTypeBehavioral AnnotationType = "behavioral"
	AnnotationTypeColor      AnnotationType = "color"
	AnnotationTypePattern    AnnotationType = "pattern"
)

// IsValid reports whether t is a known annotation type.
func (t AnnotationType) IsValid() bool {
	switch t {
	case AnnotationTypeAnatomical, AnnotationTypeBehavioral, AnnotationTypeColor, AnnotationTypePattern:
		return true
	}
	return false
}

// ParseAnnotationType maps loose model output ("Anatomy", "colour") onto the enum.
// Unknown values fall back to anatomical, the most common feature kind.
func ParseAnnotationType(s string) AnnotationType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "behavioral", "behavioural", "behavior", "behaviour":
		return AnnotationTypeBehavioral
	case "color", "colour", "coloration", "colouration":
		return AnnotationTypeColor
	case "pattern", "patterns", "marking", "markings":
		return AnnotationTypePattern
	default:
		return AnnotationTypeAnatomical
	}
}

// ItemStatus is the review state of an AnnotationItem.
type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusApproved ItemStatus = "approved"
	ItemStatusRejected ItemStatus = "rejected"
	ItemStatusEdited   ItemStatus = "edited"
)

// IsValid reports whether s is a known item status.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusApproved, ItemStatusRejected, ItemStatusEdited:
		return true
	}
	return false
}

// HasCanonical reports whether an item in this status owns a canonical annotation.
func (s ItemStatus) HasCanonical() bool {
	return s == ItemStatusApproved || s == ItemStatusEdited
}

// JobStatus is the lifecycle state of an AnnotationJob.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusPending    JobStatus = "pending"
	JobStatusFailed     JobStatus = "failed"
	// JobStatusReviewed is set once every item of the job has been resolved.
	JobStatusReviewed JobStatus = "reviewed"
)

// UnknownSpecies buckets jobs and learned patterns whose species was not supplied.
const UnknownSpecies = "unknown"

// Difficulty bounds for learners.
const (
	MinDifficulty     = 1
	MaxDifficulty     = 5
	DefaultDifficulty = 2
)

// NormalizeSpecies lowercases and trims a species name, defaulting to UnknownSpecies.
func NormalizeSpecies(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if s == "" {
		return UnknownSpecies
	}
	return s
}

// AnnotationJob is one generation request against one image.
type AnnotationJob struct {
	ID              uuid.UUID  `json:"jobId"`
	ImageID         string     `json:"imageId"`
	ImageURL        string     `json:"imageUrl"`
	Species         string     `json:"species"`
	Status          JobStatus  `json:"status"`
	ConfidenceScore *float64   `json:"confidenceScore,omitempty"`
	AnnotationCount int        `json:"annotationCount"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	Model           string     `json:"model,omitempty"`
	DeadlineAt      time.Time  `json:"deadlineAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// AnnotationItem is one candidate annotation produced by a job.
type AnnotationItem struct {
	ID                   uuid.UUID      `json:"id"`
	JobID                uuid.UUID      `json:"jobId"`
	ImageID              string         `json:"imageId"`
	Species              string         `json:"species"`
	SpanishTerm          string         `json:"spanishTerm"`
	EnglishTerm          string         `json:"englishTerm"`
	BoundingBox          BoundingBox    `json:"boundingBox"`
	Type                 AnnotationType `json:"type"`
	DifficultyLevel      int            `json:"difficultyLevel"`
	Pronunciation        *string        `json:"pronunciation,omitempty"`
	Confidence           float64        `json:"confidence"`
	Status               ItemStatus     `json:"status"`
	ApprovedAnnotationID *uuid.UUID     `json:"approvedAnnotationId,omitempty"`
	ReviewedBy           *string        `json:"reviewedBy,omitempty"`
	ReviewedAt           *time.Time     `json:"reviewedAt,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// Validate checks the invariants every stored item must satisfy.
func (i *AnnotationItem) Validate() error {
	ve := validateFields(i.SpanishTerm, i.EnglishTerm, i.Type, i.DifficultyLevel, i.BoundingBox)
	if i.Confidence < 0 || i.Confidence > 1 {
		ve.Add("confidence", fmt.Sprintf("must be within [0,1], got %v", i.Confidence))
	}
	return ve.OrNil()
}

// CanonicalAnnotation is the production annotation consumed by exercises and the canvas renderer.
type CanonicalAnnotation struct {
	ID              uuid.UUID      `json:"id"`
	SourceItemID    uuid.UUID      `json:"sourceItemId"`
	ImageID         string         `json:"imageId"`
	Species         string         `json:"species"`
	SpanishTerm     string         `json:"spanishTerm"`
	EnglishTerm     string         `json:"englishTerm"`
	BoundingBox     BoundingBox    `json:"boundingBox"`
	Type            AnnotationType `json:"type"`
	DifficultyLevel int            `json:"difficultyLevel"`
	Pronunciation   *string        `json:"pronunciation,omitempty"`
	IsVisible       bool           `json:"isVisible"`
	CreatedBy       string         `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// NewCanonicalAnnotation builds the canonical record for an accepted item.
func NewCanonicalAnnotation(item *AnnotationItem, reviewer string, now time.Time) *CanonicalAnnotation {
	return &CanonicalAnnotation{
		ID:              uuid.New(),
		SourceItemID:    item.ID,
		ImageID:         item.ImageID,
		Species:         item.Species,
		SpanishTerm:     item.SpanishTerm,
		EnglishTerm:     item.EnglishTerm,
		BoundingBox:     item.BoundingBox,
		Type:            item.Type,
		DifficultyLevel: item.DifficultyLevel,
		Pronunciation:   item.Pronunciation,
		IsVisible:       true,
		CreatedBy:       reviewer,
		CreatedAt:       now,
	}
}

// ItemOverrides carries a partial update; nil fields keep the original value.
type ItemOverrides struct {
	SpanishTerm     *string         `json:"spanishTerm,omitempty"`
	EnglishTerm     *string         `json:"englishTerm,omitempty"`
	BoundingBox     *BoundingBox    `json:"boundingBox,omitempty"`
	Type            *AnnotationType `json:"type,omitempty"`
	DifficultyLevel *int            `json:"difficultyLevel,omitempty"`
	Pronunciation   *string         `json:"pronunciation,omitempty"`
}

// IsEmpty reports whether no field is overridden.
func (o *ItemOverrides) IsEmpty() bool {
	return o == nil || (o.SpanishTerm == nil && o.EnglishTerm == nil && o.BoundingBox == nil &&
		o.Type == nil && o.DifficultyLevel == nil && o.Pronunciation == nil)
}

// HasMetadataOnly reports whether the overrides touch only fields an in-place patch may change.
func (o *ItemOverrides) HasMetadataOnly() bool {
	return o == nil || o.Type == nil
}

// ApplyTo returns a copy of item with the overrides merged in.
func (o *ItemOverrides) ApplyTo(item *AnnotationItem) *AnnotationItem {
	merged := *item
	if o == nil {
		return &merged
	}
	if o.SpanishTerm != nil {
		merged.SpanishTerm = strings.TrimSpace(*o.SpanishTerm)
	}
	if o.EnglishTerm != nil {
		merged.EnglishTerm = strings.TrimSpace(*o.EnglishTerm)
	}
	if o.BoundingBox != nil {
		merged.BoundingBox = *o.BoundingBox
	}
	if o.Type != nil {
		merged.Type = *o.Type
	}
	if o.DifficultyLevel != nil {
		merged.DifficultyLevel = *o.DifficultyLevel
	}
	if o.Pronunciation != nil {
		p := strings.TrimSpace(*o.Pronunciation)
		if p == "" {
			merged.Pronunciation = nil
		} else {
			merged.Pronunciation = &p
		}
	}
	return &merged
}

// Validate checks every supplied field.
func (o *ItemOverrides) Validate() error {
	if o == nil {
		return nil
	}
	ve := &apperrors.ValidationError{}
	if o.SpanishTerm != nil && strings.TrimSpace(*o.SpanishTerm) == "" {
		ve.Add("spanishTerm", "must not be empty")
	}
	if o.EnglishTerm != nil && strings.TrimSpace(*o.EnglishTerm) == "" {
		ve.Add("englishTerm", "must not be empty")
	}
	if o.Type != nil && !o.Type.IsValid() {
		ve.Add("type", fmt.Sprintf("must be one of anatomical, behavioral, color, pattern; got %q", *o.Type))
	}
	if o.DifficultyLevel != nil && (*o.DifficultyLevel < MinDifficulty || *o.DifficultyLevel > MaxDifficulty) {
		ve.Add("difficultyLevel", fmt.Sprintf("must be between %d and %d", MinDifficulty, MaxDifficulty))
	}
	if o.BoundingBox != nil {
		if err := o.BoundingBox.Validate(); err != nil {
			ve.Add("boundingBox", err.Error())
		}
	}
	return ve.OrNil()
}

func validateFields(spanish, english string, typ AnnotationType, difficulty int, box BoundingBox) *apperrors.ValidationError {
	ve := &apperrors.ValidationError{}
	if strings.TrimSpace(spanish) == "" {
		ve.Add("spanishTerm", "must not be empty")
	}
	if strings.TrimSpace(english) == "" {
		ve.Add("englishTerm", "must not be empty")
	}
	if !typ.IsValid() {
		ve.Add("type", fmt.Sprintf("unknown annotation type %q", typ))
	}
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		ve.Add("difficultyLevel", fmt.Sprintf("must be between %d and %d", MinDifficulty, MaxDifficulty))
	}
	if err := box.Validate(); err != nil {
		ve.Add("boundingBox", err.Error())
	}
	return ve
}
