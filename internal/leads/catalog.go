// Package leads turns raw lead rows from the subscription back office into funnel records:
// it maps status labels onto pipeline stages and derives the segment attributes analysts
// slice the funnel by.
package leads

import (
	"strconv"
	"strings"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
)

// defaultStages is the online subscription pipeline, in order.
var defaultStages = []string{
	"email not verified",
	"email validated",
	"subscription started",
	"tax code ok",
	"personal data ok",
	"residence ok",
	"id document ok",
	"documents signed",
	"anti-money-laundering ok",
	"fund chosen",
	"completed",
}

// StageCatalog names the milestones of a pipeline and resolves status labels to stages.
type StageCatalog struct {
	labels  []string
	byLabel map[string]funnel.Stage
}

// DefaultCatalog returns the eleven-milestone subscription pipeline (stages 0..10).
func DefaultCatalog() *StageCatalog {
	return NewCatalog(defaultStages)
}

// NewCatalog builds a catalog where labels[i] names stage i.
func NewCatalog(labels []string) *StageCatalog {
	c := &StageCatalog{
		labels:  append([]string(nil), labels...),
		byLabel: make(map[string]funnel.Stage, len(labels)),
	}
	for i, l := range labels {
		c.byLabel[normalizeLabel(l)] = funnel.Stage(i)
	}
	return c
}

// WithMaxStage returns a catalog ending at stage last. Extra stages are labelled "stage <n>".
func (c *StageCatalog) WithMaxStage(last int) *StageCatalog {
	if last < 0 || last == int(c.MaxStage()) {
		return c
	}
	labels := make([]string, last+1)
	for i := range labels {
		if i < len(c.labels) {
			labels[i] = c.labels[i]
		} else {
			labels[i] = "stage " + strconv.Itoa(i)
		}
	}
	return NewCatalog(labels)
}

// MaxStage is the last stage of the pipeline.
func (c *StageCatalog) MaxStage() funnel.Stage {
	return funnel.Stage(len(c.labels) - 1)
}

// Label returns the display label of a stage, "" when out of range.
func (c *StageCatalog) Label(s funnel.Stage) string {
	if s < 0 || int(s) >= len(c.labels) {
		return ""
	}
	return c.labels[s]
}

// StageOf resolves a back-office status to a stage. Statuses look like "3 - Codice Fiscale OK";
// the leading number decides. Bare catalog labels are accepted too. Statuses without a valid
// stage (test users, cancelled users, other products) report false.
func (c *StageCatalog) StageOf(status string) (funnel.Stage, bool) {
	s := strings.TrimSpace(status)
	if s == "" {
		return 0, false
	}
	if head, _, found := strings.Cut(s, "-"); found {
		if n, err := strconv.Atoi(strings.TrimSpace(head)); err == nil {
			if n < 0 || n > int(c.MaxStage()) {
				return 0, false
			}
			return funnel.Stage(n), true
		}
	}
	st, ok := c.byLabel[normalizeLabel(s)]
	return st, ok
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
