package repository

import (
	"context"
	"errors"
	"time"

	"github.com/azhengyongqin/lecture-hub/internal/model"
)

var (
	// ErrNotFound 任务不存在
	ErrNotFound = errors.New("task not found")

	// ErrConflict 守卫更新未命中（已终态、并发抢占或 attempt_count 不匹配）
	ErrConflict = errors.New("task state conflict")
)

// Task 表示任务实体
type Task struct {
	TaskID       string                        `json:"task_id"`
	Title        string                        `json:"title"`
	SourceRef    string                        `json:"source_ref"`
	Status       model.TaskStatus              `json:"status"`
	Stage        model.Stage                   `json:"stage,omitempty"`
	Outputs      map[model.ArtifactKind]string `json:"outputs,omitempty"`
	ErrorKind    model.ErrorKind               `json:"error_kind,omitempty"`
	ErrorMessage string                        `json:"error_message,omitempty"`
	AttemptCount int                           `json:"attempt_count"`
	CreatedAt    time.Time                     `json:"created_at"`
	UpdatedAt    time.Time                     `json:"updated_at"`
}

// HasOutput 判断某类产物的 checkpoint 是否已记录
func (t *Task) HasOutput(kind model.ArtifactKind) bool {
	_, ok := t.Outputs[kind]
	return ok
}

// ListTasksFilter 任务列表查询过滤条件
type ListTasksFilter struct {
	Status string
	Limit  int
	Offset int
}

// TaskRepository 任务仓储接口
// 所有状态迁移都走守卫更新：WHERE 带上期望的当前状态，
// 未命中返回 ErrConflict，由调用方决定放弃还是重试。
type TaskRepository interface {
	// CreateTask 创建新任务（queued，attempt_count=0）
	CreateTask(ctx context.Context, task Task) error

	// GetTask 根据 task_id 获取任务详情
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// BeginAttempt 领取任务：status 置为 processing 且 attempt_count+1。
	// 条件：状态非终态且 attempt_count 等于 expected（防止并发重复领取）。
	BeginAttempt(ctx context.Context, taskID string, expected int) error

	// SetStage 记录当前执行阶段（仅 processing 状态下有效）
	SetStage(ctx context.Context, taskID string, stage model.Stage) error

	// PutOutput 记录阶段产物定位符。outputs 为 append-only：
	// 已存在的 kind 不会被覆盖（重复调用是幂等 no-op）。
	PutOutput(ctx context.Context, taskID string, kind model.ArtifactKind, locator string) error

	// FinalizeDone 置为 done。条件：processing 且 notes 产物已记录。
	FinalizeDone(ctx context.Context, taskID string) error

	// FinalizeError 置为 error 并记录失败原因。终态任务不会被改写。
	FinalizeError(ctx context.Context, taskID string, kind model.ErrorKind, message string) error

	// ListTasks 查询任务列表（支持分页和状态过滤）
	ListTasks(ctx context.Context, filter ListTasksFilter) ([]Task, error)

	// CountTasks 统计任务总数
	CountTasks(ctx context.Context, filter ListTasksFilter) (int, error)

	// DeleteTask 删除任务记录（管理端清理用，核心流程不删除）
	DeleteTask(ctx context.Context, taskID string) error
}
