package models

import (
	"encoding/json"
	"time"
)

// StateRecord is the persisted image of one (game_id, state_key) entity.
type StateRecord struct {
	ID        uint            `gorm:"primaryKey"`
	GameID    string          `gorm:"column:game_id;size:64;uniqueIndex:idx_state_scope,priority:1;not null"`
	StateKey  string          `gorm:"column:state_key;size:64;uniqueIndex:idx_state_scope,priority:2;not null"`
	Data      json.RawMessage `gorm:"column:data;type:jsonb;not null"`
	Version   int64           `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;not null"`
}

// TableName keeps the table name stable regardless of GORM pluralization.
func (StateRecord) TableName() string {
	return "state_records"
}
