package funnel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dimension names a segment attribute of a lead (subscription year, login type, bonus...).
type Dimension string

// EmptySegment is the segment key used for missing or blank attribute values.
const EmptySegment = "(empty)"

// Record is one lead: its current stage, an optional display label for that stage, and the
// attributes it can be segmented by.
type Record struct {
	Stage  Stage
	Label  string
	Fields map[Dimension]any
}

// Predicate selects records for an analysis. A nil Predicate keeps everything.
type Predicate func(Record) bool

// All returns a predicate that holds when every non-nil predicate holds.
func All(preds ...Predicate) Predicate {
	return func(r Record) bool {
		for _, p := range preds {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

// RecordFromMap builds a Record from a generic row. stageField is mandatory; labelField may
// be empty. Every other entry becomes a segment field.
func RecordFromMap(row map[string]any, stageField, labelField string) (Record, error) {
	raw, ok := row[stageField]
	if !ok {
		return Record{}, fmt.Errorf("%w: field %q is absent", ErrInvalidSchema, stageField)
	}
	stage, err := ParseStage(raw)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Stage: stage, Fields: make(map[Dimension]any, len(row))}
	for k, v := range row {
		switch k {
		case stageField:
			continue
		case labelField:
			if s, ok := v.(string); ok {
				rec.Label = strings.TrimSpace(s)
			}
			continue
		}
		rec.Fields[Dimension(k)] = v
	}
	return rec, nil
}

// SegmentKey renders a segment value as a column key.
func SegmentKey(v any) string {
	switch x := v.(type) {
	case nil:
		return EmptySegment
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s
		}
		return EmptySegment
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
