package asynqx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeLectureProcess 讲座处理任务类型
const TypeLectureProcess = "lecture:process"

// NewTaskID 生成任务 ID（uuid4）
func NewTaskID() string {
	return uuid.NewString()
}

// ProcessPayload 入队消息只携带 task_id，任务内容以 Postgres 行为准。
// 队列消息可能重复投递，所以消息本身不承载任何状态。
type ProcessPayload struct {
	TaskID string `json:"task_id"`
}

// NewProcessTask 构造讲座处理任务
func NewProcessTask(taskID string) (*asynq.Task, error) {
	b, err := json.Marshal(ProcessPayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeLectureProcess, b), nil
}

// ParseProcessPayload 解析入队消息
func ParseProcessPayload(t *asynq.Task) (ProcessPayload, error) {
	var p ProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.TaskID == "" {
		return p, fmt.Errorf("payload 缺少 task_id")
	}
	return p, nil
}

type EnqueueParams struct {
	TaskID   string
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

func EnqueueOptions(p EnqueueParams) []asynq.Option {
	var opts []asynq.Option

	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.MaxRetry >= 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	if p.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.Timeout))
	}

	// 幂等：同一个 task_id 24h 内只允许一次（避免误触发重复入队）
	if p.TaskID != "" {
		opts = append(opts, asynq.Unique(24*time.Hour))
	}

	return opts
}
