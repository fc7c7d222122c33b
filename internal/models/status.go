package models

// Delivery lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusAssigned  = "assigned"
	StatusPickedUp  = "picked_up"
	StatusInTransit = "in_transit"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

// Actor roles carried by validated bearer tokens.
const (
	RoleClient = "client"
	RoleDriver = "driver"
	RoleAdmin  = "admin"
)

// statusGraph holds the forward edges of the lifecycle state machine.
// Cancellation is handled separately: it is legal from any non-terminal
// state.
var statusGraph = map[string][]string{
	StatusPending:   {StatusAssigned},
	StatusAssigned:  {StatusPickedUp, StatusInTransit},
	StatusPickedUp:  {StatusInTransit},
	StatusInTransit: {StatusDelivered},
}

// KnownStatus reports whether s is one of the lifecycle statuses.
func KnownStatus(s string) bool {
	switch s {
	case StatusPending, StatusAssigned, StatusPickedUp, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// TerminalStatus reports whether no further status writes are allowed.
func TerminalStatus(s string) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ValidTransition reports whether the edge from -> to exists in the
// lifecycle graph.
func ValidTransition(from, to string) bool {
	if to == StatusCancelled {
		return !TerminalStatus(from)
	}
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TrackableStatus reports whether a delivery in status s accepts location
// pings.
func TrackableStatus(s string) bool {
	return s == StatusAssigned || s == StatusPickedUp || s == StatusInTransit
}

// Ping update types.
const (
	UpdateAutomatic  = "automatic"
	UpdateManual     = "manual"
	UpdateCheckpoint = "checkpoint"
	UpdatePickup     = "pickup"
	UpdateDelivery   = "delivery"
)

// KnownUpdateType reports whether t is a valid ping update type.
func KnownUpdateType(t string) bool {
	switch t {
	case UpdateAutomatic, UpdateManual, UpdateCheckpoint, UpdatePickup, UpdateDelivery:
		return true
	}
	return false
}
