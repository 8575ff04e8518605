package entity

import "time"

// Account 租户，本表不带 account_id，不受租户作用域过滤
type Account struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	Name      string    `gorm:"column:name;type:varchar(128)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Account) TableName() string { return "accounts" }

type Team struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	AccountID string    `gorm:"column:account_id;index;not null;type:varchar(64)"`
	Name      string    `gorm:"column:name;type:varchar(128)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Team) TableName() string { return "teams" }
