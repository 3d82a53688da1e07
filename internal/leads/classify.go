package leads

import (
	"fmt"
	"strings"
	"time"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
)

// Derived dimensions added by the Classifier when their source columns are present.
const (
	DimLoginType        funnel.Dimension = "login_type"
	DimAgeBand          funnel.Dimension = "age_band"
	DimSubscriptionYear funnel.Dimension = "subscription_year"
	DimSubscribedAt     funnel.Dimension = "subscribed_at"
)

// Columns maps sheet headers onto the fields the classifier understands. Only one of Stage
// or Status is required; empty names are ignored.
type Columns struct {
	// Stage holds a numeric stage index.
	Stage string
	// Status holds a back-office status such as "4 - Dati Anagrafici OK".
	Status       string
	SubscribedAt string
	Facebook     string
	Google       string
	Age          string
	BirthDate    string

	// Bonus holds the onboarding bonus amount; blank means no bonus.
	Bonus string
}

// DefaultColumns matches the headers of the back-office lead export.
func DefaultColumns() Columns {
	return Columns{
		Status:       "status",
		SubscribedAt: "subscription_date",
		Facebook:     "facebook_id",
		Google:       "google_id",
		Age:          "age",
		BirthDate:    "birth_date",
		Bonus:        "subscription_bonus",
	}
}

// Classifier converts raw rows keyed by header into funnel records.
type Classifier struct {
	Catalog *StageCatalog
	Columns Columns
	// Now anchors age computation from birth dates when a row has no subscription date.
	Now func() time.Time
}

// NewClassifier returns a classifier over the given catalog and column mapping.
func NewClassifier(catalog *StageCatalog, cols Columns) *Classifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Classifier{Catalog: catalog, Columns: cols, Now: time.Now}
}

// Validate checks that the headers needed to place a lead on the pipeline are present.
func (c *Classifier) Validate(headers []string) error {
	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[strings.TrimSpace(h)] = true
	}
	switch {
	case c.Columns.Stage != "" && have[c.Columns.Stage]:
		return nil
	case c.Columns.Status != "" && have[c.Columns.Status]:
		return nil
	case c.Columns.Stage == "" && c.Columns.Status == "":
		return fmt.Errorf("%w: no stage or status column configured", funnel.ErrInvalidSchema)
	default:
		return fmt.Errorf("%w: neither %q nor %q is a header", funnel.ErrInvalidSchema, c.Columns.Stage, c.Columns.Status)
	}
}

// Classify turns one row into a record. It reports false for rows that sit on no valid stage
// (blank, cancelled or foreign statuses); those rows are not errors. A stage column holding a
// non-integer or a stage outside the catalog is ErrInvalidSchema.
func (c *Classifier) Classify(row map[string]string) (funnel.Record, bool, error) {
	rec := funnel.Record{Fields: make(map[funnel.Dimension]any, len(row)+4)}

	switch {
	case c.Columns.Stage != "" && strings.TrimSpace(row[c.Columns.Stage]) != "":
		st, err := funnel.ParseStage(row[c.Columns.Stage])
		if err != nil {
			return funnel.Record{}, false, err
		}
		if last := c.Catalog.MaxStage(); st < 0 || st > last {
			return funnel.Record{}, false, fmt.Errorf("%w: stage %d outside 0..%d", funnel.ErrInvalidSchema, st, last)
		}
		rec.Stage = st
	case c.Columns.Status != "":
		st, ok := c.Catalog.StageOf(row[c.Columns.Status])
		if !ok {
			return funnel.Record{}, false, nil
		}
		rec.Stage = st
	default:
		return funnel.Record{}, false, nil
	}
	rec.Label = c.Catalog.Label(rec.Stage)

	for k, v := range row {
		if k == c.Columns.Stage && k != "" {
			continue
		}
		rec.Fields[funnel.Dimension(k)] = strings.TrimSpace(v)
	}
	if col := c.Columns.Bonus; col != "" {
		if raw, present := row[col]; present {
			rec.Fields[funnel.Dimension(col)] = BonusAmount(raw)
		}
	}

	var subscribed time.Time
	if col := c.Columns.SubscribedAt; col != "" {
		if raw, present := row[col]; present {
			rec.Fields[DimSubscribedAt] = nil
			if t, ok := parseTime(raw); ok {
				subscribed = t
				rec.Fields[DimSubscribedAt] = t
			}
			rec.Fields[DimSubscriptionYear] = SubscriptionYear(subscribed)
		}
	}

	_, hasFB := row[c.Columns.Facebook]
	_, hasG := row[c.Columns.Google]
	if (c.Columns.Facebook != "" && hasFB) || (c.Columns.Google != "" && hasG) {
		rec.Fields[DimLoginType] = LoginType(c.flag(row, c.Columns.Facebook), c.flag(row, c.Columns.Google))
	}

	if band, ok := c.ageBand(row, subscribed); ok {
		rec.Fields[DimAgeBand] = band
	}
	return rec, true, nil
}

// flag treats a social-id column as set when it holds an identifier or a truthy marker.
func (c *Classifier) flag(row map[string]string, col string) bool {
	if col == "" {
		return false
	}
	v := strings.TrimSpace(row[col])
	switch strings.ToLower(v) {
	case "", "0", "0.0", "false", "no", "n", "null", "nan":
		return false
	}
	return true
}

func (c *Classifier) ageBand(row map[string]string, at time.Time) (string, bool) {
	if col := c.Columns.Age; col != "" {
		if raw, present := row[col]; present {
			if n, ok := parseNumber(raw); ok {
				return AgeBand(int(n)), true
			}
			return UnknownBand, true
		}
	}
	if col := c.Columns.BirthDate; col != "" {
		if raw, present := row[col]; present {
			born, ok := parseTime(raw)
			if !ok {
				return UnknownBand, true
			}
			if at.IsZero() {
				at = c.Now()
			}
			return AgeBand(ageAt(born, at)), true
		}
	}
	return "", false
}

func ageAt(born, at time.Time) int {
	age := at.Year() - born.Year()
	if at.YearDay() < born.YearDay() {
		age--
	}
	return age
}
