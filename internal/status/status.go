// Package status holds the availability vocabulary shared by every finder.
package status

import "context"

// Status is a label for a person's current availability. Values are not
// ordered; precedence between detection rules lives in the finders.
type Status string

const (
	Busy         Status = "busy"
	Available    Status = "available"
	Away         Status = "away"
	DoNotDisturb Status = "do_not_disturb"
	Unknown      Status = "unknown"
)

// All lists every status in declaration order.
var All = []Status{Busy, Available, Away, DoNotDisturb, Unknown}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case Busy, Available, Away, DoNotDisturb, Unknown:
		return true
	}
	return false
}

// Finder derives a status from exactly one external signal source.
//
// An unconfigured source resolves to Unknown with a nil error. Transport
// failures and malformed upstream data are returned as errors.
type Finder interface {
	// Name identifies the source in logs and API output (e.g. "ical").
	Name() string
	Status(ctx context.Context) (Status, error)
}
