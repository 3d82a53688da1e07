package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the cursor schema version written into new tokens.
const Version = 1

// Unit is what a cursor's offset counts.
type Unit string

// UnitSegments pages over the segment columns of a funnel table.
const UnitSegments Unit = "segments"

// ErrInvalidCursor wraps every decoding and structural failure.
var ErrInvalidCursor = errors.New("cursor: invalid")

// Cursor is the decoded form of an opaque page token. Field names are kept short because the
// token travels through the client on every page.
//
//   - wid, s, r, d: workbook handle, sheet, normalized range and segment dimension
//   - off, ps:      offset of the next segment and the page size
//   - wbv:          workbook write version the page was computed on
//   - qh:           HashQuery of the filters, baseline and metrics
type Cursor struct {
	V   int    `json:"v"`
	Wid string `json:"wid"`
	S   string `json:"s"`
	R   string `json:"r,omitempty"`
	D   string `json:"d"`
	U   Unit   `json:"u"`
	Off int    `json:"off"`
	Ps  int    `json:"ps"`
	Wbv int64  `json:"wbv"`
	Iat int64  `json:"iat"`
	Qh  string `json:"qh,omitempty"`
}

// View identifies what a page was computed from. A cursor is only honoured for the view it
// was issued for.
type View struct {
	WorkbookID string
	Sheet      string
	Range      string
	Dimension  string
	QueryHash  string
	Version    int64
}

// NewCursor returns the cursor for the page starting at off within v.
func NewCursor(v View, off, pageSize int) Cursor {
	return Cursor{
		V:   Version,
		Wid: v.WorkbookID,
		S:   v.Sheet,
		R:   v.Range,
		D:   v.Dimension,
		U:   UnitSegments,
		Off: off,
		Ps:  pageSize,
		Wbv: v.Version,
		Iat: time.Now().Unix(),
		Qh:  v.QueryHash,
	}
}

// EncodeCursor checks c and encodes it as unpadded URL-safe base64 of its JSON form.
func EncodeCursor(c Cursor) (string, error) {
	if c.V == 0 {
		c.V = Version
	}
	if err := c.check(); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64url", ErrInvalidCursor)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: not a cursor", ErrInvalidCursor)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Cursor) check() error {
	var problem string
	switch {
	case c.V != Version:
		problem = fmt.Sprintf("unsupported version %d", c.V)
	case strings.TrimSpace(c.Wid) == "":
		problem = "missing workbook id"
	case strings.TrimSpace(c.S) == "":
		problem = "missing sheet"
	case strings.TrimSpace(c.D) == "":
		problem = "missing dimension"
	case c.U != UnitSegments:
		problem = fmt.Sprintf("unknown unit %q", c.U)
	case c.Off < 0:
		problem = "negative offset"
	case c.Ps <= 0:
		problem = "page size must be positive"
	case c.Wbv < 0:
		problem = "negative workbook version"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidCursor, problem)
}

// Matches reports whether c was issued for v.
func (c *Cursor) Matches(v View) bool {
	return c.Wid == v.WorkbookID && c.S == v.Sheet && c.R == v.Range && c.D == v.Dimension &&
		c.Qh == v.QueryHash && c.Wbv == v.Version
}

// HashQuery returns a short digest of the JSON form of v. Map keys are sorted by
// encoding/json, so equal queries hash equally.
func HashQuery(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// NextOffset is the offset after a page of n segments starting at curr.
func NextOffset(curr, n int) int {
	return max(curr, 0) + max(n, 0)
}
