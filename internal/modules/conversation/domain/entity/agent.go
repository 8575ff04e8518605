package entity

import "time"

// 坐席在线状态
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
	AvailabilityBusy    = "busy"
	AvailabilityAway    = "away"
)

func ValidAvailability(s string) bool {
	switch s {
	case AvailabilityOnline, AvailabilityOffline, AvailabilityBusy, AvailabilityAway:
		return true
	}
	return false
}

type Agent struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	AccountID    string     `gorm:"column:account_id;index;not null;type:varchar(64)"`
	TeamID       string     `gorm:"column:team_id;index;type:varchar(64)"`
	Name         string     `gorm:"column:name;type:varchar(128)"`
	Email        string     `gorm:"column:email;type:varchar(255)"`
	Availability string     `gorm:"column:availability;type:varchar(16);default:offline"`
	CurrentLoad  int        `gorm:"column:current_load;not null;default:0"`
	MaxCapacity  int        `gorm:"column:max_capacity;not null;default:5"`
	LastSeenAt   *time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (Agent) TableName() string { return "agents" }

// LoadRatio 当前负载占容量比例，容量非正视为满载
func (a Agent) LoadRatio() float64 {
	if a.MaxCapacity <= 0 {
		return 1
	}
	return float64(a.CurrentLoad) / float64(a.MaxCapacity)
}

func (a Agent) HasCapacity() bool {
	return a.MaxCapacity > 0 && a.CurrentLoad < a.MaxCapacity
}
