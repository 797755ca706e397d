package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"go.uber.org/zap"

	"github.com/aves-app/aves-engine/pkg/models"
)

// minBirdScore is the lowest localizer score treated as a real detection.
const minBirdScore = 0.5

// localizeFunc is the one Cloud Vision call the locator makes.
type localizeFunc func(ctx context.Context, img *visionpb.Image) ([]*visionpb.LocalizedObjectAnnotation, error)

// CloudVisionLocator finds birds with Google Cloud Vision object localization.
// Credentials come from Application Default Credentials.
type CloudVisionLocator struct {
	localize localizeFunc
	close    func() error
	logger   *zap.Logger
}

// NewCloudVisionLocator dials Cloud Vision.
func NewCloudVisionLocator(ctx context.Context, logger *zap.Logger) (*CloudVisionLocator, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cloud vision client: %w", err)
	}
	localize := func(ctx context.Context, img *visionpb.Image) ([]*visionpb.LocalizedObjectAnnotation, error) {
		return client.LocalizeObjects(ctx, img, nil)
	}
	return newCloudVisionLocator(localize, client.Close, logger), nil
}

func newCloudVisionLocator(localize localizeFunc, closeFn func() error, logger *zap.Logger) *CloudVisionLocator {
	return &CloudVisionLocator{localize: localize, close: closeFn, logger: logger.Named("vision.locator")}
}

// LocateBird returns the union of every confident "bird" object in the image.
func (l *CloudVisionLocator) LocateBird(ctx context.Context, imageURL string) (models.BoundingBox, bool, error) {
	objects, err := l.localize(ctx, vision.NewImageFromURI(imageURL))
	if err != nil {
		return models.BoundingBox{}, false, fmt.Errorf("localize objects: %w", err)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := 0
	for _, obj := range objects {
		if !strings.EqualFold(obj.GetName(), "bird") || obj.GetScore() < minBirdScore {
			continue
		}
		for _, v := range obj.GetBoundingPoly().GetNormalizedVertices() {
			minX = math.Min(minX, float64(v.GetX()))
			minY = math.Min(minY, float64(v.GetY()))
			maxX = math.Max(maxX, float64(v.GetX()))
			maxY = math.Max(maxY, float64(v.GetY()))
		}
		found++
	}

	if found == 0 || maxX <= minX || maxY <= minY {
		l.logger.Debug("No bird localized", zap.Int("objects", len(objects)))
		return models.BoundingBox{}, false, nil
	}

	return models.BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true, nil
}

// Close releases the underlying gRPC connection.
func (l *CloudVisionLocator) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}
