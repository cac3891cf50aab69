package domain

import "time"

// RefillEventType enumerates progress notifications of a refill run.
type RefillEventType string

const (
	RefillStarted  RefillEventType = "started"
	RefillItem     RefillEventType = "item"
	RefillFinished RefillEventType = "finished"
)

// RefillEvent is published while a background refill run progresses.
type RefillEvent struct {
	Type      RefillEventType `json:"type"`
	RunID     string          `json:"runId"`
	UserID    string          `json:"userId"`
	Timeframe string          `json:"timeframe"`
	Item      *ReportItem     `json:"item,omitempty"`
	Status    ReportStatus    `json:"status,omitempty"`
	Processed int             `json:"processed"`
	Total     int             `json:"total"`
	Time      time.Time       `json:"time"`
}
