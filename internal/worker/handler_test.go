package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/lecture-hub/internal/model"
	"github.com/azhengyongqin/lecture-hub/internal/pipeline"
	asynqx "github.com/azhengyongqin/lecture-hub/internal/queue"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
)

// fakeRunner 可编程的流水线结果
type fakeRunner struct {
	calls int
	fn    func(task *repository.Task) error
}

func (f *fakeRunner) Run(_ context.Context, task *repository.Task) error {
	f.calls++
	return f.fn(task)
}

// successRunner 模拟完整跑通：写 notes checkpoint 后返回 nil
func successRunner(repo repository.TaskRepository) *fakeRunner {
	return &fakeRunner{fn: func(task *repository.Task) error {
		_ = repo.PutOutput(context.Background(), task.TaskID, model.ArtifactNotes, "notes/"+task.TaskID+".md")
		return nil
	}}
}

func processMsg(t *testing.T, taskID string) *asynq.Task {
	t.Helper()
	msg, err := asynqx.NewProcessTask(taskID)
	require.NoError(t, err)
	return msg
}

func seedTask(t *testing.T, repo *repository.MemoryRepo, taskID string) {
	t.Helper()
	require.NoError(t, repo.CreateTask(context.Background(), repository.Task{
		TaskID:    taskID,
		Title:     "数据库系统第五讲",
		SourceRef: "https://example.com/lecture.mp4",
		Status:    model.TaskStatusQueued,
	}))
}

func TestProcessTaskSuccess(t *testing.T) {
	repo := repository.NewMemoryRepo()
	seedTask(t, repo, "task-1")
	runner := successRunner(repo)
	h := NewHandler(repo, runner, 3)

	err := h.ProcessTask(context.Background(), processMsg(t, "task-1"))
	require.NoError(t, err)

	got, _ := repo.GetTask(context.Background(), "task-1")
	assert.Equal(t, model.TaskStatusDone, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestProcessTaskDuplicateDelivery(t *testing.T) {
	repo := repository.NewMemoryRepo()
	seedTask(t, repo, "task-1")
	runner := successRunner(repo)
	h := NewHandler(repo, runner, 3)

	require.NoError(t, h.ProcessTask(context.Background(), processMsg(t, "task-1")))
	// 完成后的重复投递：ack 且不再执行
	require.NoError(t, h.ProcessTask(context.Background(), processMsg(t, "task-1")))

	assert.Equal(t, 1, runner.calls, "重复投递只能有一次真实执行")

	got, _ := repo.GetTask(context.Background(), "task-1")
	assert.Equal(t, model.TaskStatusDone, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

// contendedRepo 在 GetTask 返回后让另一个消费者抢先领取一次，
// 模拟同一条消息被并发投递给两个 worker 的交错。
type contendedRepo struct {
	*repository.MemoryRepo
	once sync.Once
}

func (r *contendedRepo) GetTask(ctx context.Context, taskID string) (*repository.Task, error) {
	task, err := r.MemoryRepo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() {
		_ = r.MemoryRepo.BeginAttempt(ctx, taskID, task.AttemptCount)
	})
	return task, nil
}

func TestProcessTaskConcurrentDeliveryRunsOnce(t *testing.T) {
	repo := &contendedRepo{MemoryRepo: repository.NewMemoryRepo()}
	seedTask(t, repo.MemoryRepo, "task-1")
	runner := successRunner(repo.MemoryRepo)
	h := NewHandler(repo, runner, 3)
	ctx := context.Background()

	// 第一次投递：读到 attempt_count=0 后被并发消费者抢占，
	// BeginAttempt 守卫未命中 → 让位方 ack 且不执行流水线
	err := h.ProcessTask(ctx, processMsg(t, "task-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls, "守卫未命中不允许执行流水线")

	got, _ := repo.MemoryRepo.GetTask(ctx, "task-1")
	assert.Equal(t, model.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	// 抢占方挂掉后的重投：从当前 attempt_count 正常领取并跑完
	require.NoError(t, h.ProcessTask(ctx, processMsg(t, "task-1")))
	assert.Equal(t, 1, runner.calls, "两次投递只能有一次真实执行")

	got, _ = repo.MemoryRepo.GetTask(ctx, "task-1")
	assert.Equal(t, model.TaskStatusDone, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestProcessTaskPermanentFailure(t *testing.T) {
	repo := repository.NewMemoryRepo()
	seedTask(t, repo, "task-1")
	runner := &fakeRunner{fn: func(_ *repository.Task) error {
		return &pipeline.StageError{
			Stage:     model.StageFetch,
			Kind:      model.ErrKindSourceUnavailable,
			Transient: false,
			Message:   "源视频无法下载",
			Err:       errors.New("status 404"),
		}
	}}
	h := NewHandler(repo, runner, 3)

	// 永久失败：ack（不返回 error），任务进终态
	err := h.ProcessTask(context.Background(), processMsg(t, "task-1"))
	require.NoError(t, err)

	got, _ := repo.GetTask(context.Background(), "task-1")
	assert.Equal(t, model.TaskStatusError, got.Status)
	assert.Equal(t, model.ErrKindSourceUnavailable, got.ErrorKind)
	assert.Equal(t, "源视频无法下载", got.ErrorMessage)
	// 对外信息不包含下游原始响应
	assert.NotContains(t, got.ErrorMessage, "404")
}

func TestProcessTaskTransientRetriesThenExhausts(t *testing.T) {
	repo := repository.NewMemoryRepo()
	seedTask(t, repo, "task-1")
	runner := &fakeRunner{fn: func(_ *repository.Task) error {
		return &pipeline.StageError{
			Stage:     model.StageTranscribe,
			Kind:      model.ErrKindTranscriptionFailed,
			Transient: true,
			Message:   "语音识别未完成",
			Err:       errors.New("connection reset"),
		}
	}}
	h := NewHandler(repo, runner, 3)
	ctx := context.Background()

	// 前两次：返回 error 让队列重投，任务保持非终态
	for i := 0; i < 2; i++ {
		err := h.ProcessTask(ctx, processMsg(t, "task-1"))
		require.Error(t, err)
		got, _ := repo.GetTask(ctx, "task-1")
		assert.Equal(t, model.TaskStatusProcessing, got.Status)
	}

	// 第三次：预算耗尽，终态化并 ack
	err := h.ProcessTask(ctx, processMsg(t, "task-1"))
	require.NoError(t, err)

	got, _ := repo.GetTask(ctx, "task-1")
	assert.Equal(t, model.TaskStatusError, got.Status)
	assert.Equal(t, model.ErrKindTranscriptionFailed, got.ErrorKind)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Contains(t, got.ErrorMessage, "重试次数耗尽")
}

func TestProcessTaskUnknownTask(t *testing.T) {
	repo := repository.NewMemoryRepo()
	runner := &fakeRunner{fn: func(_ *repository.Task) error { return nil }}
	h := NewHandler(repo, runner, 3)

	// 行不存在：ack 丢弃
	err := h.ProcessTask(context.Background(), processMsg(t, "ghost"))
	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls)
}

func TestProcessTaskBadPayload(t *testing.T) {
	repo := repository.NewMemoryRepo()
	h := NewHandler(repo, &fakeRunner{fn: func(_ *repository.Task) error { return nil }}, 3)

	b, _ := json.Marshal(map[string]string{"other": "field"})
	err := h.ProcessTask(context.Background(), asynq.NewTask(asynqx.TypeLectureProcess, b))
	// 损坏消息：SkipRetry，不再重投
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessTaskLostOwnership(t *testing.T) {
	repo := repository.NewMemoryRepo()
	seedTask(t, repo, "task-1")
	runner := &fakeRunner{fn: func(task *repository.Task) error {
		// 模拟执行期间任务被并发终态化
		_ = repo.FinalizeError(context.Background(), task.TaskID, model.ErrKindStorageError, "并发写入")
		return repository.ErrConflict
	}}
	h := NewHandler(repo, runner, 3)

	err := h.ProcessTask(context.Background(), processMsg(t, "task-1"))
	// 失去所有权：ack，不覆盖并发写入的终态
	require.NoError(t, err)

	got, _ := repo.GetTask(context.Background(), "task-1")
	assert.Equal(t, model.TaskStatusError, got.Status)
	assert.Equal(t, model.ErrKindStorageError, got.ErrorKind)
}
