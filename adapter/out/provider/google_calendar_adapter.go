package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// GoogleCalendarAdapter implements out.CalendarPort for Google Calendar.
type GoogleCalendarAdapter struct {
	config *oauth2.Config
	log    zerolog.Logger
}

// NewGoogleCalendarAdapter creates a Google Calendar adapter reusing the Gmail
// OAuth client credentials.
func NewGoogleCalendarAdapter(cfg *GmailConfig, log zerolog.Logger) *GoogleCalendarAdapter {
	return &GoogleCalendarAdapter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		log: log.With().Str("component", "gcal").Logger(),
	}
}

func (a *GoogleCalendarAdapter) getService(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return calendar.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, token),
	))
}

// GetFreeBusy queries the primary calendar's busy intervals in [start, end).
func (a *GoogleCalendarAdapter) GetFreeBusy(ctx context.Context, token *oauth2.Token, start, end time.Time) ([]out.BusyInterval, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: "primary"}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query failed: %w", err)
	}

	cal, ok := resp.Calendars["primary"]
	if !ok {
		return nil, nil
	}

	busy := make([]out.BusyInterval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		s, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			a.log.Warn().Str("start", period.Start).Msg("unparseable busy interval skipped")
			continue
		}
		e, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			a.log.Warn().Str("end", period.End).Msg("unparseable busy interval skipped")
			continue
		}
		busy = append(busy, out.BusyInterval{Start: s, End: e})
	}

	return busy, nil
}

var _ out.CalendarPort = (*GoogleCalendarAdapter)(nil)
