package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserSettings contains per-user pipeline policy: notification threshold,
// quiet hours, allow/deny sender domains, and working hours for schedule
// proposals.
type UserSettings struct {
	ID     int64     `json:"id"`
	UserID uuid.UUID `json:"user_id"`

	// Notification policy
	NotifyThreshold int    `json:"notify_threshold"` // minimum blended score to alert
	QuietHoursStart int    `json:"quiet_hours_start"`
	QuietHoursEnd   int    `json:"quiet_hours_end"`
	Timezone        string `json:"timezone"`

	// Sender domain policy
	AllowDomains []string `json:"allow_domains,omitempty"`
	DenyDomains  []string `json:"deny_domains,omitempty"`

	// Follow-up side tasks
	DraftsEnabled     bool `json:"drafts_enabled"`
	SchedulingEnabled bool `json:"scheduling_enabled"`
	WorkdayStartHour  int  `json:"workday_start_hour"`
	WorkdayEndHour    int  `json:"workday_end_hour"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyDefaults seeds UserSettings for users who have never saved a policy.
// Deployments override the built-ins through configuration at startup.
type PolicyDefaults struct {
	NotifyThreshold   int
	QuietHoursStart   int
	QuietHoursEnd     int
	Timezone          string
	DraftsEnabled     bool
	SchedulingEnabled bool
}

var defaultPolicy = PolicyDefaults{
	NotifyThreshold:   70,
	QuietHoursStart:   21,
	QuietHoursEnd:     8,
	Timezone:          "America/New_York",
	DraftsEnabled:     true,
	SchedulingEnabled: true,
}

// SetDefaultPolicy replaces the built-in policy defaults. Called once during
// startup, before any workers run.
func SetDefaultPolicy(p PolicyDefaults) {
	defaultPolicy = p
}

// DefaultUserSettings returns default pipeline policy for new users.
func DefaultUserSettings(userID uuid.UUID) *UserSettings {
	return &UserSettings{
		UserID:            userID,
		NotifyThreshold:   defaultPolicy.NotifyThreshold,
		QuietHoursStart:   defaultPolicy.QuietHoursStart,
		QuietHoursEnd:     defaultPolicy.QuietHoursEnd,
		Timezone:          defaultPolicy.Timezone,
		DraftsEnabled:     defaultPolicy.DraftsEnabled,
		SchedulingEnabled: defaultPolicy.SchedulingEnabled,
		WorkdayStartHour:  9,
		WorkdayEndHour:    18,
	}
}

// Location resolves the user's timezone, falling back to UTC when the name is
// unknown or tzdata is unavailable.
func (s *UserSettings) Location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// InQuietHours reports whether now falls inside the quiet window. The window
// may wrap midnight: start=21 end=8 covers 21:00-23:59 and 00:00-07:59.
func (s *UserSettings) InQuietHours(now time.Time) bool {
	start, end := s.QuietHoursStart, s.QuietHoursEnd
	if start == end {
		return false
	}
	hour := now.In(s.Location()).Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// QuietHoursEndTime returns the next moment the quiet window closes, for
// rescheduling deferred notifications. Callers must only invoke it when
// InQuietHours(now) is true.
func (s *UserSettings) QuietHoursEndTime(now time.Time) time.Time {
	local := now.In(s.Location())
	end := time.Date(local.Year(), local.Month(), local.Day(), s.QuietHoursEnd, 0, 0, 0, local.Location())
	if !end.After(local) {
		end = end.Add(24 * time.Hour)
	}
	return end
}

// DomainDenied reports whether the sender's domain is on the deny list.
func (s *UserSettings) DomainDenied(fromEmail string) bool {
	return matchDomain(fromEmail, s.DenyDomains)
}

// DomainAllowed reports whether the sender's domain is on the allow list.
func (s *UserSettings) DomainAllowed(fromEmail string) bool {
	return matchDomain(fromEmail, s.AllowDomains)
}

func matchDomain(fromEmail string, domains []string) bool {
	at := strings.LastIndex(fromEmail, "@")
	if at < 0 {
		return false
	}
	senderDomain := strings.ToLower(fromEmail[at+1:])
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d == "" {
			continue
		}
		if senderDomain == d || strings.HasSuffix(senderDomain, "."+d) {
			return true
		}
	}
	return false
}
