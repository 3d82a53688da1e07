package pagination

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func view() View {
	return View{
		WorkbookID: "wb-123",
		Sheet:      "Leads",
		Range:      "A1:H5000",
		Dimension:  "login_type",
		QueryHash:  HashQuery(map[string]any{"year": 2019}),
		Version:    2,
	}
}

func TestCursor_RoundTripAndBinding(t *testing.T) {
	v := view()
	tok, err := EncodeCursor(NewCursor(v, 25, 25))
	require.NoError(t, err)
	require.False(t, strings.ContainsAny(tok, "+/="), "token must be url-safe: %q", tok)

	c, err := DecodeCursor(tok)
	require.NoError(t, err)
	require.Equal(t, 25, c.Off)
	require.Equal(t, 25, c.Ps)
	require.True(t, c.Matches(v))

	for _, mutate := range []func(*View){
		func(v *View) { v.Dimension = "age_band" },
		func(v *View) { v.Range = "A1:H4000" },
		func(v *View) { v.QueryHash = HashQuery(map[string]any{"year": 2020}) },
		func(v *View) { v.Version = 3 },
		func(v *View) { v.WorkbookID = "wb-456" },
	} {
		other := view()
		mutate(&other)
		require.False(t, c.Matches(other), "%+v", other)
	}
}

func TestEncodeCursor_DefaultsVersion(t *testing.T) {
	tok, err := EncodeCursor(Cursor{Wid: "w", S: "Leads", D: "login_type", U: UnitSegments, Ps: 10})
	require.NoError(t, err)
	c, err := DecodeCursor(tok)
	require.NoError(t, err)
	require.Equal(t, Version, c.V)
}

func TestHashQuery_Stable(t *testing.T) {
	a := HashQuery(map[string]any{"year": 2019, "min_stage": 3})
	require.NotEmpty(t, a)
	require.Equal(t, a, HashQuery(map[string]any{"min_stage": 3, "year": 2019}))
	require.NotEqual(t, a, HashQuery(map[string]any{"year": 2020, "min_stage": 3}))
}

func TestNextOffset(t *testing.T) {
	require.Equal(t, 25, NextOffset(0, 25))
	require.Equal(t, 30, NextOffset(25, 5))
	require.Equal(t, 7, NextOffset(-3, 7))
	require.Equal(t, 10, NextOffset(10, 0))
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, tok := range []string{
		"",
		"!!!",
		b64(`not-json`),
		b64(`{"v":1}`),
		b64(`{"v":2,"wid":"x","s":"S","d":"y","u":"segments","off":0,"ps":10}`),
		b64(`{"v":1,"wid":"x","s":"","d":"y","u":"segments","off":0,"ps":10}`),
		b64(`{"v":1,"wid":"","s":"S","d":"y","u":"segments","off":0,"ps":10}`),
		b64(`{"v":1,"wid":"x","s":"S","d":"","u":"segments","off":0,"ps":10}`),
		b64(`{"v":1,"wid":"x","s":"S","d":"y","u":"rows","off":0,"ps":10}`),
		b64(`{"v":1,"wid":"x","s":"S","d":"y","u":"segments","off":-1,"ps":10}`),
		b64(`{"v":1,"wid":"x","s":"S","d":"y","u":"segments","off":0,"ps":0}`),
		b64(`{"v":1,"wid":"x","s":"S","d":"y","u":"segments","off":0,"ps":5,"wbv":-1}`),
	} {
		_, err := DecodeCursor(tok)
		require.ErrorIs(t, err, ErrInvalidCursor, tok)
	}
}

func FuzzDecodeCursor(f *testing.F) {
	for _, s := range []string{"", "abc", b64(`{"v":1}`), b64(`{"v":1,"wid":"wb","s":"S","d":"y","u":"segments","off":0,"ps":1}`)} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, token string) {
		c, err := DecodeCursor(token)
		if err == nil {
			_, err = EncodeCursor(*c)
			require.NoError(t, err)
		}
	})
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
