package leads

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
)

func TestCatalog_StageOf(t *testing.T) {
	c := DefaultCatalog()
	require.Equal(t, funnel.Stage(10), c.MaxStage())
	require.Equal(t, "tax code ok", c.Label(3))
	require.Equal(t, "", c.Label(11))

	cases := []struct {
		in    string
		stage funnel.Stage
		ok    bool
	}{
		{"0 - Email non verificata", 0, true},
		{"3 - Codice Fiscale OK", 3, true},
		{" 10 - Completato ", 10, true},
		{"Residence OK", 5, true},
		{"12 - Altro prodotto", 0, false},
		{"Utente di test", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		st, ok := c.StageOf(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			require.Equal(t, tc.stage, st, tc.in)
		}
	}
}

func TestCatalog_WithMaxStage(t *testing.T) {
	short := DefaultCatalog().WithMaxStage(5)
	require.Equal(t, funnel.Stage(5), short.MaxStage())
	_, ok := short.StageOf("7 - Documenti firmati")
	require.False(t, ok)

	long := DefaultCatalog().WithMaxStage(12)
	require.Equal(t, "stage 12", long.Label(12))
	st, ok := long.StageOf("12 - Altro")
	require.True(t, ok)
	require.Equal(t, funnel.Stage(12), st)
}

func TestLoginType(t *testing.T) {
	require.Equal(t, LoginMulti, LoginType(true, true))
	require.Equal(t, LoginFacebook, LoginType(true, false))
	require.Equal(t, LoginGoogle, LoginType(false, true))
	require.Equal(t, LoginOther, LoginType(false, false))
}

func TestAgeBand(t *testing.T) {
	cases := map[int]string{
		17: UnknownBand,
		18: "18-20",
		19: "18-20",
		20: "20-25",
		24: "20-25",
		25: "25-30",
		42: "40-45",
		64: "60-65",
		65: "65+",
		90: "65+",
	}
	for age, want := range cases {
		require.Equal(t, want, AgeBand(age), "age %d", age)
	}
}

func TestClassify_DerivesDimensions(t *testing.T) {
	c := NewClassifier(nil, DefaultColumns())
	rec, ok, err := c.Classify(map[string]string{
		"status":            "7 - Documenti firmati",
		"subscription_date": "2019-03-14",
		"facebook_id":       "10203",
		"google_id":         "",
		"age":               "33",
		"bonus":             "yes",
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, funnel.Stage(7), rec.Stage)
	require.Equal(t, "documents signed", rec.Label)
	require.Equal(t, LoginFacebook, rec.Fields[DimLoginType])
	require.Equal(t, "30-35", rec.Fields[DimAgeBand])
	require.Equal(t, 2019, rec.Fields[DimSubscriptionYear])
	require.Equal(t, "yes", rec.Fields["bonus"])
}

func TestClassify_BirthDate(t *testing.T) {
	cols := DefaultColumns()
	cols.Age = ""
	c := NewClassifier(nil, cols)
	c.Now = func() time.Time { return time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC) }

	rec, ok, err := c.Classify(map[string]string{"status": "1 - Email validata", "birth_date": "1990-12-01"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "25-30", rec.Fields[DimAgeBand])
	_, hasLogin := rec.Fields[DimLoginType]
	require.False(t, hasLogin)
}

func TestClassify_SkipsAndErrors(t *testing.T) {
	c := NewClassifier(nil, DefaultColumns())
	_, ok, err := c.Classify(map[string]string{"status": "Utente cancellato"})
	require.NoError(t, err)
	require.False(t, ok)

	numeric := NewClassifier(nil, Columns{Stage: "stage"})
	rec, ok, err := numeric.Classify(map[string]string{"stage": "4", "channel": "ads"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, funnel.Stage(4), rec.Stage)
	_, kept := rec.Fields["stage"]
	require.False(t, kept)

	_, _, err = numeric.Classify(map[string]string{"stage": "four"})
	require.True(t, errors.Is(err, funnel.ErrInvalidSchema))
	for _, raw := range []string{"15", "-1", "11"} {
		_, ok, err = numeric.Classify(map[string]string{"stage": raw})
		require.ErrorIs(t, err, funnel.ErrInvalidSchema, raw)
		require.False(t, ok)
	}
	short := NewClassifier(DefaultCatalog().WithMaxStage(5), Columns{Stage: "stage"})
	_, _, err = short.Classify(map[string]string{"stage": "6"})
	require.ErrorIs(t, err, funnel.ErrInvalidSchema)

	require.NoError(t, numeric.Validate([]string{"stage", "channel"}))
	require.Error(t, numeric.Validate([]string{"channel"}))
}

func TestBonusAmount(t *testing.T) {
	for raw, want := range map[string]string{
		"":      "0",
		" NaN ": "0",
		"0":     "0",
		"0.0":   "0",
		"5":     "5",
		"5.0":   "5",
		"5,00":  "5",
		"12.5":  "12.5",
		"promo": "promo",
	} {
		require.Equal(t, want, BonusAmount(raw), raw)
	}
}

func TestClassify_NormalizesBonus(t *testing.T) {
	c := NewClassifier(nil, DefaultColumns())
	seen := map[any]int{}
	for _, bonus := range []string{"", "0", "5", "5.0", "nan"} {
		rec, ok, err := c.Classify(map[string]string{"status": "3 - Codice Fiscale OK", "subscription_bonus": bonus})
		require.NoError(t, err)
		require.True(t, ok)
		seen[rec.Fields["subscription_bonus"]]++
	}
	require.Equal(t, map[any]int{"0": 3, "5": 2}, seen)

	rec, ok, err := c.Classify(map[string]string{"status": "3 - Codice Fiscale OK"})
	require.NoError(t, err)
	require.True(t, ok)
	_, has := rec.Fields["subscription_bonus"]
	require.False(t, has)
}

func TestFilters(t *testing.T) {
	c := NewClassifier(nil, DefaultColumns())
	rows := []map[string]string{
		{"status": "2 - Sottoscrizione iniziata", "subscription_date": "2018-11-30", "kind": "real"},
		{"status": "5 - Residenza OK", "subscription_date": "2019-01-05", "kind": "real"},
		{"status": "9 - Fondo scelto", "subscription_date": "2019-02-10", "kind": "TEST"},
		{"status": "4 - Dati OK", "subscription_date": "", "kind": "real"},
	}
	var recs []funnel.Record
	for _, r := range rows {
		rec, ok, err := c.Classify(r)
		require.NoError(t, err)
		require.True(t, ok)
		recs = append(recs, rec)
	}

	count := func(p funnel.Predicate) int {
		n := 0
		for _, r := range recs {
			if p(r) {
				n++
			}
		}
		return n
	}
	require.Equal(t, 2, count(SinceDate(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.Equal(t, 2, count(YearEquals(2019)))
	require.Equal(t, 3, count(MinStage(4)))
	require.Equal(t, 3, count(ExcludeStatus("kind", "test")))
	require.Equal(t, 1, count(funnel.All(YearEquals(2019), ExcludeStatus("kind", "test"))))
	require.Equal(t, 1, count(FieldEquals("kind", "test")))
}
