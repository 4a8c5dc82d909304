package repository

import (
	"encoding/json"
	"time"
)

// TaskModel GORM 模型 - 对应 task 表（schema 的唯一来源，两个进程启动时 AutoMigrate）
type TaskModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement;column:id"`
	TaskID       string          `gorm:"column:task_id;uniqueIndex;type:text;not null"`
	Title        string          `gorm:"column:title;type:text;not null"`
	SourceRef    string          `gorm:"column:source_ref;type:text;not null"`
	Status       string          `gorm:"column:status;type:text;not null;index:idx_task_status_updated_at"`
	Stage        *string         `gorm:"column:stage;type:text"`
	Outputs      json.RawMessage `gorm:"column:outputs;type:jsonb;not null;default:'{}'"`
	ErrorKind    *string         `gorm:"column:error_kind;type:text"`
	ErrorMessage *string         `gorm:"column:error_message;type:text"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;default:now();autoCreateTime;index:idx_task_created_at,sort:desc"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;not null;default:now();autoUpdateTime;index:idx_task_status_updated_at,sort:desc"`
}

// TableName 指定表名
func (TaskModel) TableName() string { return "task" }
