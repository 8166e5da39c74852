package state

import (
	"fmt"
	"time"
)

// Record is one versioned (game_id, key) state image. Data is a flat mapping;
// nested values are replaced wholesale on merge, never deep-merged.
type Record struct {
	GameID    string         `json:"game_id"`
	Key       string         `json:"key"`
	Data      map[string]any `json:"data"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ScopeKey identifies the record in storage.
func ScopeKey(gameID, key string) string {
	return fmt.Sprintf("%s:%s", gameID, key)
}

// Clone returns a copy with its own top-level data mapping, so a committed
// record can be handed out without exposing the manager's copy to mutation.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	out := *r
	out.Data = data
	return &out
}
