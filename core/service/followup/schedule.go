// Package followup prepares reply drafts and meeting proposals for
// classified leads.
package followup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// =============================================================================
// Schedule Preparer
// =============================================================================

const (
	// scheduleHorizon is how far ahead free/busy is queried.
	scheduleHorizon = 72 * time.Hour
	slotLength      = time.Hour
	maxProposals    = 3
)

// ScheduleService proposes meeting times from calendar free/busy and stores
// them on the lead's extracted fields.
type ScheduleService struct {
	calendar out.CalendarPort
	leads    out.LeadRepository
	log      zerolog.Logger
}

// NewScheduleService creates a schedule preparer.
func NewScheduleService(calendar out.CalendarPort, leads out.LeadRepository, log zerolog.Logger) *ScheduleService {
	return &ScheduleService{
		calendar: calendar,
		leads:    leads,
		log:      log.With().Str("component", "schedule").Logger(),
	}
}

// ProposeSlots queries free/busy over the next 3 days, picks open working-hour
// slots, and persists them on the lead.
func (s *ScheduleService) ProposeSlots(ctx context.Context, token *oauth2.Token, lead *domain.Lead, settings *domain.UserSettings, now time.Time) ([]domain.ProposedSlot, error) {
	busy, err := s.calendar.GetFreeBusy(ctx, token, now, now.Add(scheduleHorizon))
	if err != nil {
		return nil, err
	}

	loc := settings.Location()
	slots := FindOpenSlots(busy, now, loc, settings.WorkdayStartHour, settings.WorkdayEndHour, slotLength, maxProposals)

	fields := lead.Fields
	fields.ProposedSlots = slots
	if err := s.leads.UpdateFields(ctx, lead.ID, fields); err != nil {
		return nil, err
	}
	lead.Fields = fields

	s.log.Debug().
		Int64("lead_id", lead.ID).
		Int("slots", len(slots)).
		Msg("meeting slots proposed")
	return slots, nil
}

// FindOpenSlots walks hour-aligned candidates from the first full hour after
// from, keeps those inside the working-hours window and clear of busy
// intervals, and returns up to max slots of slotLen each.
func FindOpenSlots(busy []out.BusyInterval, from time.Time, loc *time.Location, workStart, workEnd int, slotLen time.Duration, max int) []domain.ProposedSlot {
	if loc == nil {
		loc = time.UTC
	}
	if max <= 0 {
		max = maxProposals
	}

	var slots []domain.ProposedSlot
	candidate := from.In(loc).Truncate(time.Hour).Add(time.Hour)
	horizon := from.Add(scheduleHorizon)

	for candidate.Before(horizon) && len(slots) < max {
		end := candidate.Add(slotLen)
		hour := candidate.Hour()
		if hour >= workStart && end.Hour() <= workEnd && hour < workEnd {
			if !overlapsAny(candidate, end, busy) {
				slots = append(slots, domain.ProposedSlot{Start: candidate, End: end})
			}
		}
		candidate = candidate.Add(time.Hour)
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []out.BusyInterval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
