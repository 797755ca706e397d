package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// boxEpsilon absorbs float noise when comparing or clamping coordinates.
const boxEpsilon = 1e-6

// maxOverflow is how far past the image edge a box may reach before it is
// treated as invalid rather than clamped.
const maxOverflow = 0.05

// BoundingBox is a feature's location in normalized image coordinates (0-1),
// anchored at its top-left corner.
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Point is a normalized image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// boxRecord is the canonical persisted shape.
type boxRecord struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// boxWire is the API shape: canonical fields plus the legacy corners.
type boxWire struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	TopLeft     Point   `json:"topLeft"`
	BottomRight Point   `json:"bottomRight"`
}

// boxInput accepts either shape. TopLeft marks the legacy variant.
type boxInput struct {
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	TopLeft     *Point   `json:"topLeft"`
	BottomRight *Point   `json:"bottomRight"`
}

var errDegenerateBox = errors.New("bounding box has no area")

// ParseBoundingBox decodes either bounding box shape and normalizes it.
func ParseBoundingBox(data []byte) (BoundingBox, error) {
	var in boxInput
	if err := json.Unmarshal(data, &in); err != nil {
		return BoundingBox{}, fmt.Errorf("invalid bounding box: %w", err)
	}
	return in.toBox()
}

func (in boxInput) toBox() (BoundingBox, error) {
	var b BoundingBox
	switch {
	case in.TopLeft != nil:
		b.X, b.Y = in.TopLeft.X, in.TopLeft.Y
		switch {
		case in.BottomRight != nil:
			b.Width = in.BottomRight.X - in.TopLeft.X
			b.Height = in.BottomRight.Y - in.TopLeft.Y
		case in.Width != nil && in.Height != nil:
			b.Width, b.Height = *in.Width, *in.Height
		default:
			return BoundingBox{}, errors.New("legacy bounding box needs bottomRight or width/height")
		}
	case in.X != nil && in.Y != nil && in.Width != nil && in.Height != nil:
		b = BoundingBox{X: *in.X, Y: *in.Y, Width: *in.Width, Height: *in.Height}
	default:
		return BoundingBox{}, errors.New("bounding box needs x, y, width and height")
	}
	return b.Normalize()
}

// Normalize converts percent-scale coordinates to fractions, clamps slight
// overflow past the image edge, and rejects boxes that cannot be repaired.
func (b BoundingBox) Normalize() (BoundingBox, error) {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, errors.New("bounding box has non-finite coordinates")
		}
	}

	if b.X > 1+maxOverflow || b.Y > 1+maxOverflow || b.Width > 1+maxOverflow || b.Height > 1+maxOverflow {
		b = BoundingBox{X: b.X / 100, Y: b.Y / 100, Width: b.Width / 100, Height: b.Height / 100}
	}

	if b.Width <= boxEpsilon || b.Height <= boxEpsilon {
		return BoundingBox{}, errDegenerateBox
	}
	if b.X < -maxOverflow || b.Y < -maxOverflow ||
		b.X+b.Width > 1+maxOverflow || b.Y+b.Height > 1+maxOverflow {
		return BoundingBox{}, fmt.Errorf("bounding box %s lies outside the image", b)
	}

	if b.X < 0 {
		b.Width += b.X
		b.X = 0
	}
	if b.Y < 0 {
		b.Height += b.Y
		b.Y = 0
	}
	b.Width = math.Min(b.Width, 1-b.X)
	b.Height = math.Min(b.Height, 1-b.Y)

	if b.Width <= boxEpsilon || b.Height <= boxEpsilon {
		return BoundingBox{}, errDegenerateBox
	}
	return b, nil
}

// Validate checks that the box is already normalized and inside the image.
func (b BoundingBox) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return errDegenerateBox
	}
	if b.X < 0 || b.Y < 0 || b.X+b.Width > 1+boxEpsilon || b.Y+b.Height > 1+boxEpsilon {
		return fmt.Errorf("bounding box %s must lie within the unit square", b)
	}
	return nil
}

// Area is the fraction of the image the box covers.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// TopLeft returns the legacy top-left corner.
func (b BoundingBox) TopLeft() Point {
	return Point{X: b.X, Y: b.Y}
}

// BottomRight returns the legacy bottom-right corner.
func (b BoundingBox) BottomRight() Point {
	return Point{X: b.X + b.Width, Y: b.Y + b.Height}
}

// Equal compares two boxes within eps on every coordinate.
func (b BoundingBox) Equal(other BoundingBox, eps float64) bool {
	return math.Abs(b.X-other.X) <= eps &&
		math.Abs(b.Y-other.Y) <= eps &&
		math.Abs(b.Width-other.Width) <= eps &&
		math.Abs(b.Height-other.Height) <= eps
}

// Contains reports whether p lies inside the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.X >= b.X && p.X <= b.X+b.Width && p.Y >= b.Y && p.Y <= b.Y+b.Height
}

// Expand grows the box by margin on every side, clamped to the image.
func (b BoundingBox) Expand(margin float64) BoundingBox {
	x0 := math.Max(0, b.X-margin)
	y0 := math.Max(0, b.Y-margin)
	x1 := math.Min(1, b.X+b.Width+margin)
	y1 := math.Min(1, b.Y+b.Height+margin)
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("{x:%.3f y:%.3f w:%.3f h:%.3f}", b.X, b.Y, b.Width, b.Height)
}

// Record encodes the canonical storage shape.
func (b BoundingBox) Record() ([]byte, error) {
	return json.Marshal(boxRecord{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height})
}

// MarshalJSON emits the canonical fields together with the legacy corners.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal(boxWire{
		X:           b.X,
		Y:           b.Y,
		Width:       b.Width,
		Height:      b.Height,
		TopLeft:     b.TopLeft(),
		BottomRight: b.BottomRight(),
	})
}

// UnmarshalJSON accepts both the canonical and the legacy shape.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	parsed, err := ParseBoundingBox(data)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
