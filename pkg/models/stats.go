package models

import (
	"time"

	"github.com/google/uuid"
)

// QualityThresholds drive the review-queue quality flags.
type QualityThresholds struct {
	TooSmallArea  float64
	LowConfidence float64
}

// QualityFlags marks pending items that deserve a reviewer's attention first.
// The flags are independent.
type QualityFlags struct {
	TooSmall      bool `json:"tooSmall"`
	LowConfidence bool `json:"lowConfidence"`
}

// Count returns how many flags are raised.
func (f QualityFlags) Count() int {
	n := 0
	if f.TooSmall {
		n++
	}
	if f.LowConfidence {
		n++
	}
	return n
}

// ComputeQualityFlags evaluates both flags for one item.
func ComputeQualityFlags(box BoundingBox, confidence float64, t QualityThresholds) QualityFlags {
	return QualityFlags{
		TooSmall:      box.Area() < t.TooSmallArea,
		LowConfidence: confidence < t.LowConfidence,
	}
}

// ReviewStats is the queue summary behind GET /annotations/stats.
type ReviewStats struct {
	Total          int               `json:"total"`
	Pending        int               `json:"pending"`
	Approved       int               `json:"approved"`
	Rejected       int               `json:"rejected"`
	Edited         int               `json:"edited"`
	AvgConfidence  float64           `json:"avgConfidence"`
	Jobs           map[JobStatus]int `json:"jobs"`
	RecentActivity []*ReviewAction   `json:"recentActivity"`
}

// QualityFlagSummary counts flagged pending items.
type QualityFlagSummary struct {
	PendingEvaluated int `json:"pendingEvaluated"`
	TooSmall         int `json:"tooSmall"`
	LowConfidence    int `json:"lowConfidence"`
	Both             int `json:"both"`
}

// SpeciesBreakdown counts items per species and status.
type SpeciesBreakdown struct {
	Species       string  `json:"species"`
	Total         int     `json:"total"`
	Pending       int     `json:"pending"`
	Approved      int     `json:"approved"`
	Rejected      int     `json:"rejected"`
	Edited        int     `json:"edited"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// TypeBreakdown counts items per annotation type.
type TypeBreakdown struct {
	Type          AnnotationType `json:"type"`
	Total         int            `json:"total"`
	Pending       int            `json:"pending"`
	AvgConfidence float64        `json:"avgConfidence"`
}

// PriorityItem is a flagged pending item in review order.
type PriorityItem struct {
	ID          uuid.UUID    `json:"id"`
	JobID       uuid.UUID    `json:"jobId"`
	ImageID     string       `json:"imageId"`
	Species     string       `json:"species"`
	EnglishTerm string       `json:"englishTerm"`
	SpanishTerm string       `json:"spanishTerm"`
	Confidence  float64      `json:"confidence"`
	Area        float64      `json:"area"`
	Flags       QualityFlags `json:"flags"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ReviewAnalytics backs GET /annotations/analytics.
type ReviewAnalytics struct {
	Overview                ReviewStats        `json:"overview"`
	QualityFlags            QualityFlagSummary `json:"qualityFlags"`
	ByType                  []TypeBreakdown    `json:"byType"`
	BySpecies               []SpeciesBreakdown `json:"bySpecies"`
	RejectionsByCategory    map[string]int     `json:"rejectionsByCategory"`
	UncategorizedRejections int                `json:"uncategorizedRejections"`
	TotalRejections         int                `json:"totalRejections"`
	PriorityQueue           []PriorityItem     `json:"priorityQueue"`
	GeneratedAt             time.Time          `json:"generatedAt"`
}

// RecommendedFeature is one entry of the per-species feature ranking.
type RecommendedFeature struct {
	Feature       string         `json:"feature"`
	SpanishTerm   string         `json:"spanishTerm"`
	EnglishTerm   string         `json:"englishTerm"`
	Type          AnnotationType `json:"type"`
	Confidence    float64        `json:"confidence"`
	Multiplier    float64        `json:"multiplier"`
	Approvals     int            `json:"approvals"`
	Rejections    int            `json:"rejections"`
	Corrections   int            `json:"corrections"`
	ApprovalRate  float64        `json:"approvalRate"`
	SpatialPrior  *SpatialPrior  `json:"spatialPrior,omitempty"`
	LastOutcomeAt time.Time      `json:"lastOutcomeAt"`
}

// RecommendationFromPattern projects a pattern into its ranking entry.
func RecommendationFromPattern(p *LearnedPattern) RecommendedFeature {
	return RecommendedFeature{
		Feature:       p.Feature,
		SpanishTerm:   p.SpanishTerm,
		EnglishTerm:   p.EnglishTerm,
		Type:          p.FeatureType,
		Confidence:    p.Confidence,
		Multiplier:    p.Multiplier(),
		Approvals:     p.Approvals,
		Rejections:    p.Rejections,
		Corrections:   p.Corrections,
		ApprovalRate:  p.ApprovalRate(),
		SpatialPrior:  p.SpatialPrior,
		LastOutcomeAt: p.LastOutcomeAt,
	}
}

// FeatureSummary names a feature in the global rollups.
type FeatureSummary struct {
	Species     string  `json:"species"`
	Feature     string  `json:"feature"`
	Confidence  float64 `json:"confidence"`
	Samples     int     `json:"samples"`
	Corrections int     `json:"corrections"`
}

// PatternAnalytics backs GET /annotations/patterns/analytics.
type PatternAnalytics struct {
	TotalPatterns        int              `json:"totalPatterns"`
	SpeciesTracked       int              `json:"speciesTracked"`
	TotalApprovals       int              `json:"totalApprovals"`
	TotalRejections      int              `json:"totalRejections"`
	TotalCorrections     int              `json:"totalCorrections"`
	OverallApprovalRate  float64          `json:"overallApprovalRate"`
	TopFeatures          []FeatureSummary `json:"topFeatures"`
	MostCorrected        []FeatureSummary `json:"mostCorrected"`
	RejectionsByCategory map[string]int   `json:"rejectionsByCategory"`
}

// PatternExport is the full learned-pattern dump.
type PatternExport struct {
	Version    int               `json:"version" yaml:"version"`
	ExportedAt time.Time         `json:"exportedAt" yaml:"exported_at"`
	Patterns   []*LearnedPattern `json:"patterns" yaml:"patterns"`
}

// PatternExportVersion is bumped when the export layout changes.
const PatternExportVersion = 1

// BulkJobResult reports one job of a bulk approval.
type BulkJobResult struct {
	Status   string `json:"status"`
	Approved int    `json:"approved"`
	Error    string `json:"error,omitempty"`
}

// Bulk result statuses.
const (
	BulkStatusSuccess = "success"
	BulkStatusError   = "error"
)

// BulkApproveResult summarizes a bulk approval, keyed by job id.
type BulkApproveResult struct {
	Results       map[string]BulkJobResult `json:"results"`
	TotalApproved int                      `json:"totalApproved"`
	Succeeded     int                      `json:"succeeded"`
	Failed        int                      `json:"failed"`
}
