package models

import "time"

// Rule is the persisted form of a dynamically added rule.
type Rule struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"column:name;size:128;uniqueIndex:idx_rule_scope,priority:2;not null"`
	GameID    string    `gorm:"column:game_id;size:64;uniqueIndex:idx_rule_scope,priority:1"`
	Condition string    `gorm:"column:condition;not null"`
	Action    string    `gorm:"column:action;size:128;not null"`
	Priority  int       `gorm:"column:priority;not null;default:1"`
	Enabled   bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (Rule) TableName() string {
	return "rules"
}
