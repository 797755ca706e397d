package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBoundingBox_CanonicalShape(t *testing.T) {
	box, err := ParseBoundingBox([]byte(`{"x":0.1,"y":0.2,"width":0.3,"height":0.4}`))
	require.NoError(t, err)
	assert.True(t, box.Equal(BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, 1e-9))
}

func TestParseBoundingBox_LegacyCorners(t *testing.T) {
	box, err := ParseBoundingBox([]byte(`{"topLeft":{"x":0.1,"y":0.2},"bottomRight":{"x":0.4,"y":0.6}}`))
	require.NoError(t, err)
	assert.True(t, box.Equal(BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, 1e-9))
}

func TestParseBoundingBox_LegacyWithSize(t *testing.T) {
	box, err := ParseBoundingBox([]byte(`{"topLeft":{"x":0.5,"y":0.5},"width":0.25,"height":0.1}`))
	require.NoError(t, err)
	assert.True(t, box.Equal(BoundingBox{X: 0.5, Y: 0.5, Width: 0.25, Height: 0.1}, 1e-9))
}

func TestParseBoundingBox_PercentScale(t *testing.T) {
	box, err := ParseBoundingBox([]byte(`{"x":10,"y":20,"width":30,"height":40}`))
	require.NoError(t, err)
	assert.True(t, box.Equal(BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, 1e-9))
}

func TestParseBoundingBox_ClampsSlightOverflow(t *testing.T) {
	box, err := ParseBoundingBox([]byte(`{"x":0.8,"y":-0.02,"width":0.22,"height":0.5}`))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, box.Width, 1e-9)
	assert.InDelta(t, 0.0, box.Y, 1e-9)
	assert.InDelta(t, 0.48, box.Height, 1e-9)
	assert.NoError(t, box.Validate())
}

func TestParseBoundingBox_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing fields":  `{"x":0.1,"y":0.2}`,
		"zero width":      `{"x":0.1,"y":0.2,"width":0,"height":0.4}`,
		"outside image":   `{"x":0.9,"y":0.9,"width":0.5,"height":0.5}`,
		"legacy no size":  `{"topLeft":{"x":0.1,"y":0.2}}`,
		"inverted corner": `{"topLeft":{"x":0.5,"y":0.5},"bottomRight":{"x":0.4,"y":0.6}}`,
		"not an object":   `[0.1,0.2,0.3,0.4]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBoundingBox([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestBoundingBox_MarshalEmitsBothShapes(t *testing.T) {
	data, err := json.Marshal(BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.InDelta(t, 0.1, out["x"], 1e-9)
	assert.InDelta(t, 0.3, out["width"], 1e-9)

	bottomRight := out["bottomRight"].(map[string]any)
	assert.InDelta(t, 0.4, bottomRight["x"], 1e-9)
	assert.InDelta(t, 0.6, bottomRight["y"], 1e-9)

	// Consumers that send the API shape back must land on the same box.
	var back BoundingBox
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, 1e-9))
}

func TestBoundingBox_RecordIsCanonical(t *testing.T) {
	data, err := BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}.Record()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":0.1,"y":0.2,"width":0.3,"height":0.4}`, string(data))
}

func TestBoundingBox_Geometry(t *testing.T) {
	box := BoundingBox{X: 0.2, Y: 0.2, Width: 0.2, Height: 0.4}
	assert.InDelta(t, 0.08, box.Area(), 1e-9)
	c := box.Center()
	assert.InDelta(t, 0.3, c.X, 1e-9)
	assert.InDelta(t, 0.4, c.Y, 1e-9)
	assert.True(t, box.Contains(Point{X: 0.3, Y: 0.5}))
	assert.False(t, box.Contains(Point{X: 0.5, Y: 0.5}))

	grown := box.Expand(0.3)
	assert.InDelta(t, 0.0, grown.X, 1e-9)
	assert.InDelta(t, 0.7, grown.Width, 1e-9)
	assert.InDelta(t, 0.9, grown.Y+grown.Height, 1e-9)
}
