// Package tracking syncs shipment status from the 17track API.
//
// A shipment can carry several end-carrier tracking numbers. Each number is
// queried separately and the answers are merged by Aggregate: the most
// advanced status wins, the most recent event becomes the last event, and
// all events are kept, newest first. The merged result is written back to
// the shipment, moving it to "delivered" or "in transit" when the carrier
// says so.
package tracking

// Status is a 17track package status.
type Status string

const (
	StatusNotFound    Status = "NotFound"
	StatusInTransit   Status = "InTransit"
	StatusExpired     Status = "Expired"
	StatusPickUp      Status = "PickUp"
	StatusUndelivered Status = "Undelivered"
	StatusDelivered   Status = "Delivered"
	StatusAlert       Status = "Alert"
	StatusUnknown     Status = "Unknown"
)

var statusCodes = map[int]Status{
	0:  StatusNotFound,
	10: StatusInTransit,
	20: StatusExpired,
	30: StatusPickUp,
	35: StatusUndelivered,
	40: StatusDelivered,
	50: StatusAlert,
}

// StatusFromCode maps a 17track numeric status.
func StatusFromCode(code int) Status {
	if s, ok := statusCodes[code]; ok {
		return s
	}
	return StatusUnknown
}

var statusPriority = map[Status]int{
	StatusDelivered:   100,
	StatusInTransit:   80,
	StatusPickUp:      60,
	StatusAlert:       50,
	StatusUndelivered: 40,
	StatusExpired:     20,
	StatusNotFound:    0,
}

// Priority ranks how far a package has progressed. Unknown statuses rank 0.
func (s Status) Priority() int { return statusPriority[s] }

// Shipment statuses written by a sync.
const (
	ShipmentPending   = "pending"
	ShipmentInTransit = "in transit"
	ShipmentDelivered = "delivered"
)
