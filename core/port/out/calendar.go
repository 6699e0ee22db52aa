package out

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// BusyInterval is one occupied span from the calendar free/busy query.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// CalendarPort exposes the single calendar operation the pipeline uses:
// free/busy lookup for schedule proposals.
type CalendarPort interface {
	GetFreeBusy(ctx context.Context, token *oauth2.Token, start, end time.Time) ([]BusyInterval, error)
}
