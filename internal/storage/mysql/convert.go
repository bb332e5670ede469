package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mediapulse/pulse/internal/types"
)

// nullString maps "" to NULL so probe columns with unique or lookup
// semantics never match on empty values.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func strPtr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// vectorToJSON serializes an embedding vector for a JSON column.
func vectorToJSON(v []float64) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal vector: %w", err)
	}
	return string(b), nil
}

func vectorFromJSON(raw []byte) ([]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal vector: %w", err)
	}
	return v, nil
}

// emotionsToJSON serializes an emotion distribution, mapping empty to NULL.
func emotionsToJSON(dist map[types.EmotionLabel]float64) (any, error) {
	if len(dist) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(dist)
	if err != nil {
		return nil, fmt.Errorf("marshal emotion distribution: %w", err)
	}
	return string(b), nil
}

func emotionsFromJSON(ns sql.NullString) (map[types.EmotionLabel]float64, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var dist map[types.EmotionLabel]float64
	if err := json.Unmarshal([]byte(ns.String), &dist); err != nil {
		return nil, fmt.Errorf("unmarshal emotion distribution: %w", err)
	}
	return dist, nil
}

func sentimentsToJSON(dist map[types.SentimentLabel]float64) (any, error) {
	if len(dist) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(dist)
	if err != nil {
		return nil, fmt.Errorf("marshal sentiment distribution: %w", err)
	}
	return string(b), nil
}

func sentimentsFromJSON(ns sql.NullString) (map[types.SentimentLabel]float64, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var dist map[types.SentimentLabel]float64
	if err := json.Unmarshal([]byte(ns.String), &dist); err != nil {
		return nil, fmt.Errorf("unmarshal sentiment distribution: %w", err)
	}
	return dist, nil
}

// stringsToJSON serializes a string slice, mapping empty to NULL.
func stringsToJSON(ss []string) (any, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

func stringsFromJSON(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(ns.String), &ss); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	return ss, nil
}
