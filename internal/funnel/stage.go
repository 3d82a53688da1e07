package funnel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Stage is a milestone index in a strictly ordered acquisition pipeline. A lead's stage is
// the furthest milestone it reached.
type Stage int

// StageRange bounds a stage axis, inclusive on both ends.
type StageRange struct {
	From Stage `json:"from"`
	To   Stage `json:"to"`
}

// Contains reports whether s lies inside the range.
func (r StageRange) Contains(s Stage) bool {
	return s >= r.From && s <= r.To
}

// Row keys one line of a Matrix or Table.
type Row struct {
	Stage Stage  `json:"stage"`
	Label string `json:"label,omitempty"`
}

// LabelFunc supplies a display label for stages that carry none in the data.
type LabelFunc func(Stage) string

// ParseStage converts a raw stage cell into a Stage. Integers, integral floats and
// integer strings are accepted; anything else is ErrInvalidSchema.
func ParseStage(v any) (Stage, error) {
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: stage is missing", ErrInvalidSchema)
	case Stage:
		return x, nil
	case int:
		return Stage(x), nil
	case int8:
		return Stage(x), nil
	case int16:
		return Stage(x), nil
	case int32:
		return Stage(x), nil
	case int64:
		return Stage(x), nil
	case uint8:
		return Stage(x), nil
	case uint16:
		return Stage(x), nil
	case uint32:
		return Stage(x), nil
	case float32:
		return stageFromFloat(float64(x))
	case float64:
		return stageFromFloat(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, fmt.Errorf("%w: stage is missing", ErrInvalidSchema)
		}
		if n, err := strconv.Atoi(s); err == nil {
			return Stage(n), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return stageFromFloat(f)
		}
		return 0, fmt.Errorf("%w: stage %q is not an integer", ErrInvalidSchema, x)
	default:
		return 0, fmt.Errorf("%w: stage has unsupported type %T", ErrInvalidSchema, v)
	}
}

func stageFromFloat(f float64) (Stage, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: stage %v is not an integer", ErrInvalidSchema, f)
	}
	return Stage(int(f)), nil
}
