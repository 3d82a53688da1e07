package funnel

import "errors"

// ErrInvalidSchema indicates a record or matrix that does not carry a usable stage axis:
// a missing or non-integer stage, a stage outside the configured bounds, a missing segment
// dimension, or a matrix whose shape does not match its row and column keys.
var ErrInvalidSchema = errors.New("funnel: invalid schema")

// ErrEmptyDataset indicates that no records remained once filters were applied.
var ErrEmptyDataset = errors.New("funnel: empty dataset")
