package llm

import (
	"context"
	"sync"

	"github.com/aves-app/aves-engine/pkg/models"
)

// MockVisionClient is a configurable VisionClient for tests.
type MockVisionClient struct {
	// DetectFeaturesFunc is called by DetectFeatures. If nil, an empty result is returned.
	DetectFeaturesFunc func(ctx context.Context, req *DetectionRequest) (*DetectionResult, error)

	// Model is returned by GetModel. Defaults to "mock-vision".
	Model string

	mu       sync.Mutex
	requests []*DetectionRequest
}

// NewMockVisionClient creates a mock with defaults.
func NewMockVisionClient() *MockVisionClient {
	return &MockVisionClient{Model: "mock-vision"}
}

// DetectFeatures implements VisionClient.
func (m *MockVisionClient) DetectFeatures(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.DetectFeaturesFunc != nil {
		return m.DetectFeaturesFunc(ctx, req)
	}
	return &DetectionResult{Model: m.GetModel()}, nil
}

// GetModel implements VisionClient.
func (m *MockVisionClient) GetModel() string {
	if m.Model == "" {
		return "mock-vision"
	}
	return m.Model
}

// Calls returns how many times DetectFeatures was invoked.
func (m *MockVisionClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockVisionClient) LastRequest() *DetectionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// MockBirdLocator is a configurable BirdLocator for tests.
type MockBirdLocator struct {
	Region models.BoundingBox
	Found  bool
	Err    error
}

// LocateBird implements BirdLocator.
func (m *MockBirdLocator) LocateBird(ctx context.Context, imageURL string) (models.BoundingBox, bool, error) {
	return m.Region, m.Found, m.Err
}
