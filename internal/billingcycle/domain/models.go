package domain

import "time"

// CyclePlan describes one paid subscription period and when the next
// auto-charge should fire. All instants are UTC.
type CyclePlan struct {
	StartAt        time.Time
	EndAt          time.Time
	EndGraceAt     time.Time
	NextScheduleAt time.Time
}
