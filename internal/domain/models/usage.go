package models

import "time"

// UsageEvent is one completed, authorized call awaiting accounting.
type UsageEvent struct {
	RequestID   string    `json:"requestId"`
	InterfaceID int64     `json:"interfaceInfoId"`
	UserID      int64     `json:"userId"`
	OccurredAt  time.Time `json:"occurredAt"`
}
