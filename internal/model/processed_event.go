package model

// ProcessedEvent 已处理事件账本。只增不删不改。
type ProcessedEvent struct {
	ID  int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Key string `gorm:"column:key;type:varchar(256);uniqueIndex;not null" json:"key"`
	// FirstSeenAt 首次处理时间 (Unix 毫秒)
	FirstSeenAt int64 `gorm:"column:first_seen_at;type:bigint;not null" json:"first_seen_at"`
}

// TableName 返回表名
func (ProcessedEvent) TableName() string {
	return "bridge_processed_events"
}
