// Package calendar retrieves mailbox calendar events from Exchange Web Services
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrCalendarUnavailable indicates the calendar service could not be reached or rejected the request
var ErrCalendarUnavailable = errors.New("calendar unavailable")

// Event is one calendar item
type Event struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Body        *string    `json:"body"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	Location    *string    `json:"location"`
	Organizer   *string    `json:"organizer"`
	Attendees   []Attendee `json:"attendees"`
	IsRecurring bool       `json:"is_recurring"`
	IsCancelled bool       `json:"is_cancelled"`
}

// Attendee is an invited participant of an event
type Attendee struct {
	Email    string  `json:"email"`
	Name     *string `json:"name"`
	Response *string `json:"response"`
	Optional bool    `json:"optional"`
}

// EventQuery selects the events of one mailbox inside a time window.
// Username and Password override the service account when both are set.
type EventQuery struct {
	Mailbox  string
	Start    time.Time
	End      time.Time
	Username string
	Password string
}

// Provider supplies calendar events
type Provider interface {
	TestConnection(ctx context.Context) error
	GetEvents(ctx context.Context, q EventQuery) ([]Event, error)
}

// Config holds EWS endpoint configuration
type Config struct {
	URL           string        `json:"url"`
	Username      string        `json:"username"`
	Password      string        `json:"password"`
	SkipTLSVerify bool          `json:"skip_tls_verify"`
	Timeout       time.Duration `json:"timeout"`
}
