package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/azhengyongqin/lecture-hub/internal/cache"
	"github.com/azhengyongqin/lecture-hub/internal/logger"
	"github.com/azhengyongqin/lecture-hub/internal/media"
	"github.com/azhengyongqin/lecture-hub/internal/metrics"
	"github.com/azhengyongqin/lecture-hub/internal/model"
	asynqx "github.com/azhengyongqin/lecture-hub/internal/queue"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
)

var (
	// ErrInvalidInput 提交参数非法
	ErrInvalidInput = errors.New("invalid input")

	// ErrDispatchFailed 任务行已创建但入队失败
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrArtifactNotReady 请求的产物尚未生成
	ErrArtifactNotReady = errors.New("artifact not ready")
)

const (
	maxTitleLen = 512

	// 终态快照才进缓存：done/error 之后行不再变化
	statusCacheTTL = time.Hour

	artifactURLExpiry = 15 * time.Minute

	preflightTimeout = 5 * time.Second
)

// Enqueuer asynq 客户端的入队能力
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ArtifactStore 服务层需要的对象存储能力
type ArtifactStore interface {
	PresignGet(key string, expiry time.Duration) (string, error)
	DeleteAll(ctx context.Context, taskID string) error
}

// SourcePreflighter 提交时的源链接浅校验（失效的公开链接提前拒绝）
type SourcePreflighter interface {
	Preflight(ctx context.Context, sourceRef string) error
}

// StatusCache 终态快照缓存
type StatusCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// Options 服务层配置
type Options struct {
	Queue       string
	MaxAttempts int
	// TaskTimeout 单次执行的总预算，入队时写进消息
	TaskTimeout time.Duration
}

// LectureService 讲座处理任务的提交与查询。
// 提交顺序是固定的：先落 Postgres 行，再入队。
// 行是事实来源，队列消息只是触发器。
type LectureService struct {
	repo      repository.TaskRepository
	enqueuer  Enqueuer
	store     ArtifactStore
	cache     StatusCache
	preflight SourcePreflighter
	opts      Options
}

func NewLectureService(repo repository.TaskRepository, enqueuer Enqueuer, store ArtifactStore, statusCache StatusCache, opts Options) *LectureService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	return &LectureService{
		repo:     repo,
		enqueuer: enqueuer,
		store:    store,
		cache:    statusCache,
		opts:     opts,
	}
}

// UsePreflight 启用提交时的源链接预检（可选协作方）
func (s *LectureService) UsePreflight(p SourcePreflighter) {
	s.preflight = p
}

// Submit 创建任务并入队。
// 入队失败时把刚创建的行终态化为 error（DispatchFailed），
// 不留下永远停在 queued 的孤儿行。
func (s *LectureService) Submit(ctx context.Context, title, sourceRef string) (*repository.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title 不能为空", ErrInvalidInput)
	}
	if len(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title 过长", ErrInvalidInput)
	}
	if err := media.ValidateSourceRef(sourceRef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if s.preflight != nil {
		pctx, cancel := context.WithTimeout(ctx, preflightTimeout)
		err := s.preflight.Preflight(pctx, sourceRef)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	taskID := asynqx.NewTaskID()
	task := repository.Task{
		TaskID:    taskID,
		Title:     title,
		SourceRef: sourceRef,
		Status:    model.TaskStatusQueued,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	msg, err := asynqx.NewProcessTask(taskID)
	if err != nil {
		s.dispatchFailed(ctx, taskID, err)
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	// asynq 的 MaxRetry 是“额外重投”次数，首次投递不算
	p := asynqx.EnqueueParams{
		TaskID:   taskID,
		Queue:    s.opts.Queue,
		MaxRetry: s.opts.MaxAttempts - 1,
		Timeout:  s.opts.TaskTimeout,
	}
	if _, err := s.enqueuer.Enqueue(msg, asynqx.EnqueueOptions(p)...); err != nil {
		s.dispatchFailed(ctx, taskID, err)
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	logger.WithTaskID(taskID).Info().Str("queue", s.opts.Queue).Msg("任务已提交")
	metrics.RecordTaskSubmitted()

	created, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return &task, nil
	}
	return created, nil
}

func (s *LectureService) dispatchFailed(ctx context.Context, taskID string, cause error) {
	logger.WithTaskID(taskID).Error().Err(cause).Msg("入队失败，任务终态化")
	metrics.RecordError("service", "dispatch_failed")
	if err := s.repo.FinalizeError(ctx, taskID, model.ErrKindDispatchFailed, "任务入队失败"); err != nil {
		logger.WithTaskID(taskID).Error().Err(err).Msg("入队失败后终态化也失败")
	} else {
		metrics.RecordTaskCompleted(string(model.TaskStatusError))
	}
}

// GetStatus 查询任务快照。
// 终态快照缓存在 Redis：done/error 之后行只读，缓存不会脏。
func (s *LectureService) GetStatus(ctx context.Context, taskID string) (*repository.Task, error) {
	key := cache.CacheKey("task", taskID)

	if s.cache != nil {
		var cached repository.Task
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && task.Status.Terminal() {
		if err := s.cache.Set(ctx, key, task, statusCacheTTL); err != nil {
			logger.WithTaskID(taskID).Warn().Err(err).Msg("写状态缓存失败")
		}
	}
	return task, nil
}

// List 分页查询任务
func (s *LectureService) List(ctx context.Context, filter repository.ListTasksFilter) ([]repository.Task, int, error) {
	if filter.Status != "" && !model.TaskStatus(filter.Status).Valid() {
		return nil, 0, fmt.Errorf("%w: status 非法", ErrInvalidInput)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, err := s.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	total, err := s.repo.CountTasks(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	return items, total, nil
}

// ArtifactURL 签发产物的临时下载链接。
// 只有行里记录了对应 checkpoint 才签发，避免给出 404 的链接。
func (s *LectureService) ArtifactURL(ctx context.Context, taskID string, kind model.ArtifactKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: 未知的产物类型 %q", ErrInvalidInput, kind)
	}

	task, err := s.GetStatus(ctx, taskID)
	if err != nil {
		return "", err
	}

	// 产物只在任务完成后对外可见，错误提示里带上当前状态
	if task.Status != model.TaskStatusDone {
		return "", fmt.Errorf("%w: 任务状态 %s", ErrArtifactNotReady, task.Status)
	}

	locator, ok := task.Outputs[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotReady, kind)
	}

	url, err := s.store.PresignGet(locator, artifactURLExpiry)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", locator, err)
	}
	return url, nil
}

// Delete 管理端清理：删行、删产物、删缓存。
// 不阻止删除 processing 中的任务——worker 下次守卫更新
// 会因行不存在而放弃，产物清理也是幂等的。
func (s *LectureService) Delete(ctx context.Context, taskID string) error {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return err
	}

	if err := s.repo.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task row: %w", err)
	}

	if s.store != nil {
		if err := s.store.DeleteAll(ctx, taskID); err != nil {
			// 行已删除，产物残留只能等清理任务兜底
			logger.WithTaskID(taskID).Warn().Err(err).Msg("删除产物失败")
			metrics.RecordError("service", "artifact_delete")
		}
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.CacheKey("task", taskID)); err != nil {
			logger.WithTaskID(taskID).Warn().Err(err).Msg("删除状态缓存失败")
		}
	}

	logger.WithTaskID(taskID).Info().Msg("任务已删除")
	return nil
}
