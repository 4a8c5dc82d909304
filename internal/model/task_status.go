package model

// TaskStatus 统一任务状态枚举（用于 API/PG/前端筛选）。
// 约定：
// - queued: 已落库并入队（等待被 worker 消费）
// - processing: worker 已通过守卫更新开始处理
// - done: 全部阶段完成，notes 产物已发布
// - error: 不可恢复失败或重试次数耗尽（终态）
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusError      TaskStatus = "error"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusDone, TaskStatusError:
		return true
	default:
		return false
	}
}

// Terminal 终态不允许再发生任何状态迁移
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusError
}
