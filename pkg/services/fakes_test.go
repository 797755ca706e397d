package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aves-app/aves-engine/pkg/apperrors"
	"github.com/aves-app/aves-engine/pkg/models"
	"github.com/aves-app/aves-engine/pkg/repositories"
)

// passthroughScopes hands back ctx unchanged; fakes below need no connection.
type passthroughScopes struct {
	err error
}

func (p passthroughScopes) WithScopeContext(ctx context.Context) (context.Context, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return ctx, func() {}, nil
}

type failedJob struct {
	id      uuid.UUID
	message string
}

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.AnnotationJob
	items     map[uuid.UUID][]*models.AnnotationItem
	failed    []failedJob
	completed chan uuid.UUID
	markedErr chan uuid.UUID

	createErr   error
	completeErr func(attempt int) error
	completes   int
	expired     []uuid.UUID
	expireArgs  []time.Duration
	counts      map[models.JobStatus]int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs:      make(map[uuid.UUID]*models.AnnotationJob),
		items:     make(map[uuid.UUID][]*models.AnnotationItem),
		completed: make(chan uuid.UUID, 16),
		markedErr: make(chan uuid.UUID, 16),
	}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *models.AnnotationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Species = models.NormalizeSpecies(job.Species)
	job.Status = models.JobStatusProcessing
	c := *job
	r.jobs[job.ID] = &c
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AnnotationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *job
	return &c, nil
}

func (r *fakeJobRepo) CompleteWithItems(ctx context.Context, jobID uuid.UUID, model string, items []*models.AnnotationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes++
	if r.completeErr != nil {
		if err := r.completeErr(r.completes); err != nil {
			return err
		}
	}
	job, ok := r.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return apperrors.ErrConflict
	}
	job.Status = models.JobStatusPending
	job.Model = model
	job.AnnotationCount = len(items)
	r.items[jobID] = items
	r.completed <- jobID
	return nil
}

func (r *fakeJobRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return false, nil
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = &message
	r.failed = append(r.failed, failedJob{id: jobID, message: message})
	r.markedErr <- jobID
	return true, nil
}

func (r *fakeJobRepo) FailExpired(ctx context.Context, now time.Time, grace time.Duration, message string) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireArgs = append(r.expireArgs, grace)
	ids := r.expired
	r.expired = nil
	for _, id := range ids {
		r.failed = append(r.failed, failedJob{id: id, message: message})
	}
	return ids, nil
}

func (r *fakeJobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	return r.counts, nil
}

func (r *fakeJobRepo) job(id uuid.UUID) *models.AnnotationJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.jobs[id]
	return &c
}

func (r *fakeJobRepo) failures() []failedJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failedJob(nil), r.failed...)
}

var _ repositories.AnnotationJobRepository = (*fakeJobRepo)(nil)

type fakeItemRepo struct {
	items      []*models.AnnotationItem
	total      int
	listErrs   []error
	listCalls  int
	lastStatus models.ItemStatus
	lastLimit  int
	patched    *models.ItemOverrides
	patchErr   error
}

func (r *fakeItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AnnotationItem, error) {
	for _, item := range r.items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeItemRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.AnnotationItem, error) {
	var out []*models.AnnotationItem
	for _, item := range r.items {
		if item.JobID == jobID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeItemRepo) ListByStatus(ctx context.Context, status models.ItemStatus, limit, offset int) ([]*models.AnnotationItem, int, error) {
	r.listCalls++
	r.lastStatus, r.lastLimit = status, limit
	if len(r.listErrs) > 0 {
		err := r.listErrs[0]
		r.listErrs = r.listErrs[1:]
		return nil, 0, err
	}
	return r.items, r.total, nil
}

func (r *fakeItemRepo) UpdatePending(ctx context.Context, id uuid.UUID, overrides *models.ItemOverrides) (*models.AnnotationItem, error) {
	r.patched = overrides
	if r.patchErr != nil {
		return nil, r.patchErr
	}
	item, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return overrides.ApplyTo(item), nil
}

var _ repositories.AnnotationItemRepository = (*fakeItemRepo)(nil)

type fakeReviewRepo struct {
	items     map[uuid.UUID]*models.AnnotationItem
	jobErrs   map[uuid.UUID]error
	lastNotes string
	recent    []*models.ReviewAction
}

func newFakeReviewRepo(items ...*models.AnnotationItem) *fakeReviewRepo {
	r := &fakeReviewRepo{items: make(map[uuid.UUID]*models.AnnotationItem), jobErrs: make(map[uuid.UUID]error)}
	for _, item := range items {
		r.items[item.ID] = item
	}
	return r
}

func (r *fakeReviewRepo) resolve(id uuid.UUID, status models.ItemStatus, action models.ReviewActionType, notes string, merge *models.ItemOverrides) (*repositories.ReviewOutcome, error) {
	item, ok := r.items[id]
	if !ok || item.Status != models.ItemStatusPending {
		return nil, apperrors.ErrNotFound
	}
	original := *item
	updated := merge.ApplyTo(item)
	updated.Status = status
	r.items[id] = updated
	r.lastNotes = notes

	out := &repositories.ReviewOutcome{
		Original:  &original,
		Item:      updated,
		Action:    &models.ReviewAction{ID: uuid.New(), Action: action, Notes: notes, CreatedAt: time.Now()},
		JobStatus: models.JobStatusPending,
	}
	if status.HasCanonical() {
		out.Canonical = models.NewCanonicalAnnotation(updated, "tester", time.Now())
		updated.ApprovedAnnotationID = &out.Canonical.ID
	}
	return out, nil
}

func (r *fakeReviewRepo) Approve(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*repositories.ReviewOutcome, error) {
	return r.resolve(itemID, models.ItemStatusApproved, models.ReviewActionApprove, notes, nil)
}

func (r *fakeReviewRepo) Reject(ctx context.Context, itemID uuid.UUID, reviewer, notes string) (*repositories.ReviewOutcome, error) {
	return r.resolve(itemID, models.ItemStatusRejected, models.ReviewActionReject, notes, nil)
}

func (r *fakeReviewRepo) Edit(ctx context.Context, itemID uuid.UUID, overrides *models.ItemOverrides, reviewer, notes string) (*repositories.ReviewOutcome, error) {
	return r.resolve(itemID, models.ItemStatusEdited, models.ReviewActionEdit, notes, overrides)
}

func (r *fakeReviewRepo) ApproveJob(ctx context.Context, jobID uuid.UUID, reviewer, notes string) (*repositories.JobApproval, error) {
	if err := r.jobErrs[jobID]; err != nil {
		return nil, err
	}
	approval := &repositories.JobApproval{JobID: jobID, JobStatus: models.JobStatusReviewed}
	for id, item := range r.items {
		if item.JobID != jobID || item.Status != models.ItemStatusPending {
			continue
		}
		out, err := r.resolve(id, models.ItemStatusApproved, models.ReviewActionApprove, notes, nil)
		if err != nil {
			return nil, err
		}
		approval.Outcomes = append(approval.Outcomes, out)
	}
	return approval, nil
}

func (r *fakeReviewRepo) ListRecentActions(ctx context.Context, limit int) ([]*models.ReviewAction, error) {
	return r.recent, nil
}

var _ repositories.ReviewRepository = (*fakeReviewRepo)(nil)

// recordingSink captures feedback events.
type recordingSink struct {
	mu     sync.Mutex
	events []*models.FeedbackEvent
	err    error
}

func (s *recordingSink) CaptureFeedback(ctx context.Context, event *models.FeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) kinds() []models.FeedbackKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeedbackKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func pendingTestItem(jobID uuid.UUID, english string, confidence float64, box models.BoundingBox) *models.AnnotationItem {
	return &models.AnnotationItem{
		ID:              uuid.New(),
		JobID:           jobID,
		ImageID:         "img-1",
		Species:         "northern cardinal",
		SpanishTerm:     "el " + english,
		EnglishTerm:     english,
		BoundingBox:     box,
		Type:            models.AnnotationTypeAnatomical,
		DifficultyLevel: 2,
		Confidence:      confidence,
		Status:          models.ItemStatusPending,
		CreatedAt:       time.Now(),
	}
}
