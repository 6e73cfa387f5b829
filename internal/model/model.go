package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Snapshot{},
	&TickPerformance{},
}

// Snapshot is one persisted break history for a level.
type Snapshot struct {
	ID            string         `json:"id" gorm:"primaryKey;size:36"`
	Level         string         `json:"level" gorm:"size:127;index:idx_snapshot_level_time,priority:1"`
	CreatedAt     time.Time      `json:"createdAt" gorm:"index:idx_snapshot_level_time,priority:2"`
	FormatVersion int            `json:"formatVersion"`
	Size          int            `json:"size"`
	Data          []byte         `json:"-"`
	Meta          datatypes.JSON `json:"meta"`
}

func (*Snapshot) TableName() string {
	return "break_snapshots"
}

// SnapshotMeta is the JSON document kept in Snapshot.Meta.
type SnapshotMeta struct {
	SHA256 string `json:"sha256"`
	Host   string `json:"host,omitempty"`
}

// TickPerformance is a periodic sample of session load, written when Influx
// is unavailable.
type TickPerformance struct {
	ID           uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time         time.Time `json:"time" gorm:"type:timestamptz;index"`
	Level        string    `json:"level" gorm:"size:127"`
	Events       int       `json:"events"`
	Objects      int       `json:"objects"`
	Pending      int       `json:"pending"`
	CacheKB      int       `json:"cacheKB"`
	BudgetKB     int       `json:"budgetKB"`
	TreeCounter  float64   `json:"treeCounter"`
	GlassCounter float64   `json:"glassCounter"`
}

func (*TickPerformance) TableName() string {
	return "tick_performances"
}
