package alert

import (
	"context"
	"time"
)

// TimestampLayout is the UTC ISO-8601 form stored with every alert.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Fallback values applied when a submission omits a field.
const (
	DefaultTitle    = "Alert"
	DefaultMessage  = ""
	DefaultPriority = "Medium"
)

// Alert is a single admin-authored notification.
type Alert struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Priority  string `json:"priority"`
	Timestamp string `json:"timestamp"`
}

// Submission carries the optional fields of a new alert request.
// A nil field means the client did not send it or sent null; both get the default.
type Submission struct {
	Title    *string `json:"title"`
	Message  *string `json:"message"`
	Priority *string `json:"priority"`
}

// Store exposes the ordered alert log.
type Store interface {
	// LoadAll returns every alert in insertion order. Read failures yield an empty slice.
	LoadAll(ctx context.Context) []Alert
	// Append adds one alert to the end of the log.
	Append(ctx context.Context, a Alert) error
	// NextID returns the id the next alert would receive.
	NextID(ctx context.Context) int
}

// New builds an alert from a submission, applying the fallback values.
func New(id int, sub Submission, now time.Time) Alert {
	return Alert{
		ID:        id,
		Title:     valueOr(sub.Title, DefaultTitle),
		Message:   valueOr(sub.Message, DefaultMessage),
		Priority:  valueOr(sub.Priority, DefaultPriority),
		Timestamp: FormatTimestamp(now),
	}
}

// FormatTimestamp renders t in UTC with a trailing "Z".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Reversed returns a copy of alerts ordered most recent first.
func Reversed(alerts []Alert) []Alert {
	out := make([]Alert, len(alerts))
	for i, a := range alerts {
		out[len(alerts)-1-i] = a
	}
	return out
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
