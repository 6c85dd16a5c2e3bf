package model

import "time"

type AgentProfile struct {
	AgentID     string
	DisplayName string
	Timezone    string
	CalendarID  string
}

// WorkingHours describes one weekday (0 = Sunday) in minutes after local midnight.
type WorkingHours struct {
	AgentID     string
	Weekday     int
	IsWorking   bool
	StartMinute int
	EndMinute   int
}

const (
	DefaultDayStartMinute = 9 * 60
	DefaultDayEndMinute   = 18 * 60
)

// DefaultWorkingHours is Monday to Friday, 09:00 to 18:00.
func DefaultWorkingHours(agentID string, weekday int) WorkingHours {
	if weekday < 1 || weekday > 5 {
		return WorkingHours{AgentID: agentID, Weekday: weekday}
	}
	return WorkingHours{
		AgentID:     agentID,
		Weekday:     weekday,
		IsWorking:   true,
		StartMinute: DefaultDayStartMinute,
		EndMinute:   DefaultDayEndMinute,
	}
}

// Valid reports whether the hours describe a usable day. Non-working days
// are always valid.
func (wh WorkingHours) Valid() bool {
	if wh.Weekday < 0 || wh.Weekday > 6 {
		return false
	}
	if !wh.IsWorking {
		return true
	}
	return wh.StartMinute >= 0 && wh.EndMinute <= 24*60 && wh.StartMinute < wh.EndMinute
}

// TimeOff blocks an agent's availability regardless of calendar contents.
type TimeOff struct {
	ID        string
	AgentID   string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	CreatedAt time.Time
}
