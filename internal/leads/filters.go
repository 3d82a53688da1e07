package leads

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vinodismyname/leadfunnel/internal/funnel"
)

// SinceDate keeps leads subscribed on or after t. Leads without a subscription date are dropped.
func SinceDate(t time.Time) funnel.Predicate {
	return func(r funnel.Record) bool {
		at, ok := r.Fields[DimSubscribedAt].(time.Time)
		return ok && !at.Before(t)
	}
}

// YearEquals keeps leads subscribed in the given calendar year.
func YearEquals(year int) funnel.Predicate {
	return func(r funnel.Record) bool {
		y, ok := r.Fields[DimSubscriptionYear].(int)
		return ok && y == year
	}
}

// MinStage keeps leads that reached at least stage s.
func MinStage(s funnel.Stage) funnel.Predicate {
	return func(r funnel.Record) bool { return r.Stage >= s }
}

// ExcludeStatus drops leads whose field equals one of values, case-insensitively. It removes
// test accounts and users moved to other products from the population.
func ExcludeStatus(field funnel.Dimension, values ...string) funnel.Predicate {
	excluded := lo.Associate(values, func(v string) (string, struct{}) {
		return strings.ToLower(strings.TrimSpace(v)), struct{}{}
	})
	return func(r funnel.Record) bool {
		_, hit := excluded[strings.ToLower(funnel.SegmentKey(r.Fields[field]))]
		return !hit
	}
}

// FieldEquals keeps leads whose field renders to value.
func FieldEquals(field funnel.Dimension, value string) funnel.Predicate {
	return func(r funnel.Record) bool {
		return strings.EqualFold(funnel.SegmentKey(r.Fields[field]), strings.TrimSpace(value))
	}
}
