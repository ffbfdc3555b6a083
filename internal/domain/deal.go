package domain

import "time"

// RawDeal is a raw historical fill as reported by the broker. Deals belonging
// to the same broker position share a PositionID; the earliest fill in a group
// is the entry, the latest (when more than one exists) is the exit. Only exit
// fills carry a meaningful Profit.
type RawDeal struct {
	DealID     string
	PositionID string
	OrderID    string
	Symbol     string
	Side       Direction
	Volume     float64
	Price      float64
	Profit     float64
	Time       time.Time
	Comment    string
}
