// Package stream turns change-feed batches into email and callback side
// effects with whole-batch retry and bisection down to single poison entries.
package stream

import "github.com/email-confirmation-service/internal/domain"

// Route says which handler, if any, a change record goes to.
type Route int

const (
	RouteIgnore Route = iota
	RouteCreation
	RouteConfirmation
)

func (r Route) String() string {
	switch r {
	case RouteCreation:
		return "creation"
	case RouteConfirmation:
		return "confirmation"
	}
	return "ignore"
}

// Classify routes creations to email dispatch and transitions into Confirmed
// to the callback trigger. Every other update is acked without action.
func Classify(rec domain.ChangeRecord) Route {
	switch {
	case rec.Kind() == domain.ChangeCreated:
		return RouteCreation
	case rec.StateChanged() && rec.New.State == domain.StateConfirmed:
		return RouteConfirmation
	}
	return RouteIgnore
}
