// Package finder turns one external signal source into a status.Status.
//
// Each finder owns its configuration and one TTL cache slot per upstream
// call. No finder performs I/O at construction; the first Status call
// fetches.
package finder

import "bsstatus/internal/status"

var (
	_ status.Finder = (*ICalFinder)(nil)
	_ status.Finder = (*SlackFinder)(nil)
)
