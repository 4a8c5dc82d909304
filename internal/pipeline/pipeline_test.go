package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhengyongqin/lecture-hub/internal/artifact"
	"github.com/azhengyongqin/lecture-hub/internal/media"
	"github.com/azhengyongqin/lecture-hub/internal/model"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
	"github.com/azhengyongqin/lecture-hub/internal/speech"
	"github.com/azhengyongqin/lecture-hub/internal/summarize"
)

// fakeStore 内存对象存储
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key, _ string, body io.ReadSeeker) error {
	if s.putErr != nil {
		return s.putErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return nil
}

func (s *fakeStore) PutBytes(_ context.Context, key, _ string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, artifact.ErrObjectNotFound
	}
	return b, nil
}

func (s *fakeStore) PresignGet(key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key, nil
}

// fakeFetcher 写一个假视频文件
type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, destPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destPath, []byte("video"), 0o644)
}

type fakeTranscriber struct {
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeSummarizer struct {
	calls     int
	lastTitle string
	lastText  string
	summary   string
	err       error
}

func (f *fakeSummarizer) Summarize(_ context.Context, title, transcript string) (string, error) {
	f.calls++
	f.lastTitle = title
	f.lastText = transcript
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func fakeExtract(calls *int, err error) ExtractFunc {
	return func(_ context.Context, _, mp3Path string) error {
		*calls++
		if err != nil {
			return err
		}
		return os.WriteFile(mp3Path, []byte("mp3"), 0o644)
	}
}

type fixture struct {
	repo        *repository.MemoryRepo
	store       *fakeStore
	fetcher     *fakeFetcher
	extractN    int
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	pipe        *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		repo:        repository.NewMemoryRepo(),
		store:       newFakeStore(),
		fetcher:     &fakeFetcher{},
		transcriber: &fakeTranscriber{text: "讲座转写全文"},
		summarizer:  &fakeSummarizer{summary: "## 摘要\n\n要点"},
	}
	fx.pipe = New(Deps{
		Repo:        fx.repo,
		Store:       fx.store,
		Fetcher:     fx.fetcher,
		Extract:     fakeExtract(&fx.extractN, nil),
		Transcriber: fx.transcriber,
		Summarizer:  fx.summarizer,
	})
	return fx
}

func (fx *fixture) startTask(t *testing.T, taskID string) *repository.Task {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.repo.CreateTask(ctx, repository.Task{
		TaskID:    taskID,
		Title:     "操作系统第三讲",
		SourceRef: "https://example.com/lecture.mp4",
		Status:    model.TaskStatusQueued,
	}))
	require.NoError(t, fx.repo.BeginAttempt(ctx, taskID, 0))
	task, err := fx.repo.GetTask(ctx, taskID)
	require.NoError(t, err)
	return task
}

func TestRunSuccess(t *testing.T) {
	fx := newFixture(t)
	task := fx.startTask(t, "task-1")

	err := fx.pipe.Run(context.Background(), task)
	require.NoError(t, err)

	// 三个耐久产物全部写入存储并记录到 outputs
	got, err := fx.repo.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "audio/task-1.mp3", got.Outputs[model.ArtifactAudio])
	assert.Equal(t, "transcripts/task-1.txt", got.Outputs[model.ArtifactTranscript])
	assert.Equal(t, "notes/task-1.md", got.Outputs[model.ArtifactNotes])
	assert.Equal(t, model.StagePublish, got.Stage)

	notes := string(fx.store.objects["notes/task-1.md"])
	assert.Contains(t, notes, "# 操作系统第三讲")
	assert.Contains(t, notes, "要点")

	assert.Equal(t, "讲座转写全文", string(fx.store.objects["transcripts/task-1.txt"]))
	assert.Equal(t, "讲座转写全文", fx.summarizer.lastText)
	// 标题作为上下文一并提交给摘要服务
	assert.Equal(t, "操作系统第三讲", fx.summarizer.lastTitle)
}

func TestRunPermanentSourceFailure(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.err = fmt.Errorf("%w: status 404", media.ErrSourceUnavailable)
	task := fx.startTask(t, "task-1")

	err := fx.pipe.Run(context.Background(), task)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Transient)
	assert.Equal(t, model.StageFetch, se.Stage)
	assert.Equal(t, model.ErrKindSourceUnavailable, se.Kind)

	// 后续阶段不应被触碰
	assert.Equal(t, 0, fx.extractN)
	assert.Equal(t, 0, fx.transcriber.calls)
}

func TestRunUnsupportedFormat(t *testing.T) {
	fx := newFixture(t)
	fx.pipe.extract = fakeExtract(&fx.extractN, fmt.Errorf("%w: no audio", media.ErrUnsupportedFormat))
	task := fx.startTask(t, "task-1")

	err := fx.pipe.Run(context.Background(), task)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Transient)
	assert.Equal(t, model.ErrKindUnsupportedFormat, se.Kind)
}

func TestRunTransientTranscribeFailure(t *testing.T) {
	fx := newFixture(t)
	fx.transcriber.err = errors.New("connection reset")
	task := fx.startTask(t, "task-1")

	err := fx.pipe.Run(context.Background(), task)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Transient, "网络错误应归类为瞬时")
	assert.Equal(t, model.ErrKindTranscriptionFailed, se.Kind)

	// audio checkpoint 已经落下，重投时可以跳过前两个阶段
	got, _ := fx.repo.GetTask(context.Background(), "task-1")
	assert.True(t, got.HasOutput(model.ArtifactAudio))
	assert.False(t, got.HasOutput(model.ArtifactTranscript))
}

func TestRunPermanentRejection(t *testing.T) {
	fx := newFixture(t)
	fx.transcriber.err = fmt.Errorf("%w: status 403", speech.ErrRecognitionRejected)
	task := fx.startTask(t, "task-1")

	err := fx.pipe.Run(context.Background(), task)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Transient)
	assert.Equal(t, model.ErrKindTranscriptionFailed, se.Kind)
}

func TestRunSummarizeRejected(t *testing.T) {
	fx := newFixture(t)
	fx.summarizer.err = fmt.Errorf("%w: status 401", summarize.ErrSummarizationRejected)
	task := fx.startTask(t, "task-1")

	err := fx.pipe.Run(context.Background(), task)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Transient)
	assert.Equal(t, model.ErrKindSummarizationFailed, se.Kind)
}

func TestRunResumeSkipsCompletedStages(t *testing.T) {
	fx := newFixture(t)
	task := fx.startTask(t, "task-1")
	ctx := context.Background()

	// 模拟上一次尝试：audio + transcript checkpoint 已存在
	fx.store.objects["audio/task-1.mp3"] = []byte("mp3")
	fx.store.objects["transcripts/task-1.txt"] = []byte("已有转写")
	require.NoError(t, fx.repo.PutOutput(ctx, "task-1", model.ArtifactAudio, "audio/task-1.mp3"))
	require.NoError(t, fx.repo.PutOutput(ctx, "task-1", model.ArtifactTranscript, "transcripts/task-1.txt"))
	task, _ = fx.repo.GetTask(ctx, "task-1")

	err := fx.pipe.Run(ctx, task)
	require.NoError(t, err)

	// 已完成阶段不重复执行
	assert.Equal(t, 0, fx.fetcher.calls)
	assert.Equal(t, 0, fx.extractN)
	assert.Equal(t, 0, fx.transcriber.calls)

	// summarize 用的是存储里的转写文本
	assert.Equal(t, 1, fx.summarizer.calls)
	assert.Equal(t, "已有转写", fx.summarizer.lastText)

	got, _ := fx.repo.GetTask(ctx, "task-1")
	assert.True(t, got.HasOutput(model.ArtifactNotes))
}

func TestRunNoOpWhenNotesPresent(t *testing.T) {
	fx := newFixture(t)
	task := fx.startTask(t, "task-1")
	ctx := context.Background()

	require.NoError(t, fx.repo.PutOutput(ctx, "task-1", model.ArtifactNotes, "notes/task-1.md"))
	task, _ = fx.repo.GetTask(ctx, "task-1")

	err := fx.pipe.Run(ctx, task)
	require.NoError(t, err)

	// 全部阶段都不执行
	assert.Equal(t, 0, fx.fetcher.calls)
	assert.Equal(t, 0, fx.transcriber.calls)
	assert.Equal(t, 0, fx.summarizer.calls)
}

func TestRunRepeatedSuccessIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	task := fx.startTask(t, "task-1")
	ctx := context.Background()

	require.NoError(t, fx.pipe.Run(ctx, task))
	first, _ := fx.repo.GetTask(ctx, "task-1")

	// 完成后重复投递：重新执行不改变任何产物定位符
	task2, _ := fx.repo.GetTask(ctx, "task-1")
	require.NoError(t, fx.pipe.Run(ctx, task2))
	second, _ := fx.repo.GetTask(ctx, "task-1")

	assert.Equal(t, first.Outputs, second.Outputs)
	assert.Equal(t, 1, fx.summarizer.calls)
}
