package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aves-app/aves-engine/pkg/jsonutil"
)

// RawFeature is one feature exactly as a model described it. Models drift
// between key spellings and value types, so decoding is lenient.
type RawFeature struct {
	SpanishTerm   string
	EnglishTerm   string
	Type          string
	BoundingBox   json.RawMessage
	Confidence    *float64
	Difficulty    *int
	Pronunciation string
}

var featureKeys = map[string][]string{
	"spanish":       {"spanishTerm", "spanish_term", "spanish", "term_es"},
	"english":       {"englishTerm", "english_term", "english", "term_en", "feature"},
	"type":          {"type", "featureType", "feature_type", "category"},
	"box":           {"boundingBox", "bounding_box", "box", "bbox"},
	"confidence":    {"confidence", "score"},
	"difficulty":    {"difficultyLevel", "difficulty_level", "difficulty"},
	"pronunciation": {"pronunciation", "ipa"},
}

func firstPresent(fields map[string]json.RawMessage, name string) json.RawMessage {
	for _, k := range featureKeys[name] {
		if v, ok := fields[k]; ok && len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}

// UnmarshalJSON accepts camelCase, snake_case and short key spellings.
func (f *RawFeature) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	f.SpanishTerm = strings.TrimSpace(jsonutil.FlexibleStringValue(firstPresent(fields, "spanish")))
	f.EnglishTerm = strings.TrimSpace(jsonutil.FlexibleStringValue(firstPresent(fields, "english")))
	f.Type = jsonutil.FlexibleStringValue(firstPresent(fields, "type"))
	f.Pronunciation = strings.TrimSpace(jsonutil.FlexibleStringValue(firstPresent(fields, "pronunciation")))
	f.BoundingBox = firstPresent(fields, "box")

	if c, ok := jsonutil.FlexibleFloat(firstPresent(fields, "confidence")); ok {
		f.Confidence = &c
	}
	if d, ok := jsonutil.FlexibleInt(firstPresent(fields, "difficulty")); ok {
		f.Difficulty = &d
	}
	return nil
}

// ErrNoFeatures means the model answered but listed nothing usable.
var ErrNoFeatures = errors.New("model returned no features")

// ParseFeatures reads a model answer shaped as {"features":[...]},
// {"annotations":[...]} or a bare array.
func ParseFeatures(content string) ([]RawFeature, error) {
	jsonStr, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(jsonStr)
	var features []RawFeature
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &features); err != nil {
			return nil, fmt.Errorf("decode feature list: %w", err)
		}
	} else {
		var envelope struct {
			Features    []RawFeature `json:"features"`
			Annotations []RawFeature `json:"annotations"`
		}
		if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
			return nil, fmt.Errorf("decode feature envelope: %w", err)
		}
		features = envelope.Features
		if len(features) == 0 {
			features = envelope.Annotations
		}
	}

	if len(features) == 0 {
		return nil, ErrNoFeatures
	}
	return features, nil
}
