package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/azhengyongqin/lecture-hub/internal/logger"
	"github.com/azhengyongqin/lecture-hub/internal/metrics"
	"github.com/azhengyongqin/lecture-hub/internal/model"
	"github.com/azhengyongqin/lecture-hub/internal/pipeline"
	asynqx "github.com/azhengyongqin/lecture-hub/internal/queue"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
)

// Runner 流水线执行入口
type Runner interface {
	Run(ctx context.Context, task *repository.Task) error
}

// Handler 消费 lecture:process 消息。
// 队列是 at-least-once：同一条消息可能重复投递，这里的职责是
// 保证“重复投递不等于重复执行”——以 Postgres 行的守卫更新为准。
type Handler struct {
	repo        repository.TaskRepository
	runner      Runner
	maxAttempts int
}

func NewHandler(repo repository.TaskRepository, runner Runner, maxAttempts int) *Handler {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Handler{
		repo:        repo,
		runner:      runner,
		maxAttempts: maxAttempts,
	}
}

// ProcessTask asynq 处理函数。
// 返回 nil 表示 ack（消息消费完毕），返回 error 表示让 asynq 重投。
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := asynqx.ParseProcessPayload(t)
	if err != nil {
		// 消息体损坏，重投也无济于事
		logger.Error().Err(err).Msg("无法解析队列消息，丢弃")
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}

	log := logger.WithTaskID(p.TaskID)

	task, err := h.repo.GetTask(ctx, p.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 行已被管理端删除，消息作废
			log.Warn().Msg("任务行不存在，丢弃消息")
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}

	// 完成后的重复投递：直接 ack，不做任何事
	if task.Status.Terminal() {
		log.Info().Str("status", string(task.Status)).Msg("任务已终态，忽略重复投递")
		return nil
	}

	// 守卫领取：attempt_count 作为乐观锁，防止并发消费者重复执行
	expected := task.AttemptCount
	if err := h.repo.BeginAttempt(ctx, task.TaskID, expected); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			log.Info().Msg("任务已被其他消费者领取，忽略")
			return nil
		}
		return fmt.Errorf("begin attempt: %w", err)
	}
	attempt := expected + 1
	task.Status = model.TaskStatusProcessing
	task.AttemptCount = attempt

	log.Info().Int("attempt", attempt).Msg("开始处理")

	runErr := h.runner.Run(ctx, task)
	if runErr == nil {
		if err := h.repo.FinalizeDone(ctx, task.TaskID); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				// 流水线成功但收尾守卫未命中：状态被并发改写，记录后放弃
				log.Error().Msg("FinalizeDone 守卫未命中")
				metrics.RecordError("worker", "finalize_conflict")
				return nil
			}
			return fmt.Errorf("finalize done: %w", err)
		}
		log.Info().Int("attempt", attempt).Msg("处理完成")
		metrics.RecordTaskCompleted(string(model.TaskStatusDone))
		return nil
	}

	// 失去所有权（任务被并发终态化），放弃本次执行
	if errors.Is(runErr, repository.ErrConflict) {
		log.Warn().Msg("任务状态被并发改写，放弃本次执行")
		return nil
	}

	var se *pipeline.StageError
	if errors.As(runErr, &se) {
		// 原始错误只进日志，行里只留分类 + 安全摘要
		log.Error().Err(se.Err).
			Str("stage", string(se.Stage)).
			Str("kind", string(se.Kind)).
			Bool("transient", se.Transient).
			Msg("阶段失败")

		if !se.Transient {
			h.finalizeError(ctx, task.TaskID, se.Kind, se.Message)
			return nil
		}
		if attempt >= h.maxAttempts {
			h.finalizeError(ctx, task.TaskID, se.Kind, se.Message+"（重试次数耗尽）")
			return nil
		}
		// 瞬时失败且还有预算：返回 error 让队列重投
		return runErr
	}

	// 未分类错误按瞬时处理
	log.Error().Err(runErr).Msg("处理失败")
	if attempt >= h.maxAttempts {
		h.finalizeError(ctx, task.TaskID, model.ErrKindAttemptsExhausted, "多次尝试均失败")
		return nil
	}
	return runErr
}

func (h *Handler) finalizeError(ctx context.Context, taskID string, kind model.ErrorKind, message string) {
	if err := h.repo.FinalizeError(ctx, taskID, kind, message); err != nil {
		// 终态化失败只能记录：消息已经 ack，行会停留在 processing 等待人工干预
		logger.WithTaskID(taskID).Error().Err(err).Msg("FinalizeError 失败")
		metrics.RecordError("worker", "finalize_error")
		return
	}
	metrics.RecordTaskCompleted(string(model.TaskStatusError))
}
