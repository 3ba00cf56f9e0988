package tracking

import (
	"errors"
	"sort"
	"time"
)

// ErrNoTrackingInfo is returned when no tracking number could be queried.
var ErrNoTrackingInfo = errors.New("failed to get tracking info for any tracking numbers")

// Event is one carrier scan.
type Event struct {
	Time           string `json:"time"`
	Description    string `json:"description"`
	Location       string `json:"location,omitempty"`
	Status         string `json:"status,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
}

// TrackInfo is the tracking state of one number.
type TrackInfo struct {
	Number        string    `json:"number"`
	Status        Status    `json:"status"`
	LastEvent     string    `json:"lastEvent,omitempty"`
	LastEventTime time.Time `json:"lastEventTime,omitempty"`
	Events        []Event   `json:"events"`
	CarrierCode   string    `json:"carrierCode,omitempty"`
}

// NumberResult is the lookup outcome for one tracking number.
type NumberResult struct {
	Number string
	Info   TrackInfo
	Err    error
}

// Summary is the merged tracking state of a shipment.
type Summary struct {
	Status        Status    `json:"status"`
	LastEvent     string    `json:"lastEvent,omitempty"`
	LastEventTime time.Time `json:"lastEventTime,omitempty"`
	Events        []Event   `json:"events"`
	CarrierCode   string    `json:"carrierCode,omitempty"`
	Succeeded     int       `json:"succeeded"`
	Total         int       `json:"total"`
}

// Aggregate merges per-number results. Failed lookups are skipped; when all
// of them failed the error is ErrNoTrackingInfo. Events are labelled with
// their tracking number only when the shipment has more than one.
func Aggregate(results []NumberResult) (Summary, error) {
	sum := Summary{Status: StatusNotFound, Events: []Event{}, Total: len(results)}
	label := len(results) > 1

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		sum.Succeeded++
		info := r.Info

		if info.Status.Priority() > sum.Status.Priority() {
			sum.Status = info.Status
		}
		if !info.LastEventTime.IsZero() && info.LastEventTime.After(sum.LastEventTime) {
			sum.LastEventTime = info.LastEventTime
			sum.LastEvent = info.LastEvent
		}
		for _, e := range info.Events {
			if label {
				e.TrackingNumber = r.Number
			}
			sum.Events = append(sum.Events, e)
		}
		if info.CarrierCode != "" {
			sum.CarrierCode = info.CarrierCode
		}
	}

	if sum.Succeeded == 0 {
		return Summary{}, ErrNoTrackingInfo
	}

	sort.SliceStable(sum.Events, func(i, j int) bool {
		return parseEventTime(sum.Events[i].Time).After(parseEventTime(sum.Events[j].Time))
	})
	return sum, nil
}

var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseEventTime reads a carrier timestamp. Unparseable times sort last.
func parseEventTime(s string) time.Time {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
