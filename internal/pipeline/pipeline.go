package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/azhengyongqin/lecture-hub/internal/artifact"
	"github.com/azhengyongqin/lecture-hub/internal/logger"
	"github.com/azhengyongqin/lecture-hub/internal/media"
	"github.com/azhengyongqin/lecture-hub/internal/metrics"
	"github.com/azhengyongqin/lecture-hub/internal/model"
	"github.com/azhengyongqin/lecture-hub/internal/render"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
	"github.com/azhengyongqin/lecture-hub/internal/speech"
	"github.com/azhengyongqin/lecture-hub/internal/summarize"
)

// ArtifactStore 流水线需要的对象存储操作
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, body io.ReadSeeker) error
	PutBytes(ctx context.Context, key, contentType string, data []byte) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	PresignGet(key string, expiry time.Duration) (string, error)
}

// Fetcher 源视频下载
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef, destPath string) error
}

// ExtractFunc 音轨抽取
type ExtractFunc func(ctx context.Context, videoPath, mp3Path string) error

// Transcriber 语音识别
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// Summarizer 摘要生成。title 作为上下文随转写一并提交
type Summarizer interface {
	Summarize(ctx context.Context, title, transcript string) (string, error)
}

// Timeouts 每个阶段的独立预算
type Timeouts struct {
	Fetch      time.Duration
	Transcribe time.Duration
	Summarize  time.Duration
	Publish    time.Duration
}

// Deps 流水线依赖
type Deps struct {
	Repo        repository.TaskRepository
	Store       ArtifactStore
	Fetcher     Fetcher
	Extract     ExtractFunc
	Transcriber Transcriber
	Summarizer  Summarizer
	Timeouts    Timeouts
}

// Pipeline 六阶段处理流水线：
// fetch → extract_audio → transcribe → summarize → render → publish。
// 每个耐久产物是一个 checkpoint，重投时从第一个缺失的产物继续。
type Pipeline struct {
	repo        repository.TaskRepository
	store       ArtifactStore
	fetcher     Fetcher
	extract     ExtractFunc
	transcriber Transcriber
	summarizer  Summarizer
	timeouts    Timeouts
}

func New(d Deps) *Pipeline {
	if d.Extract == nil {
		d.Extract = media.ExtractAudio
	}
	if d.Timeouts.Fetch == 0 {
		d.Timeouts.Fetch = 10 * time.Minute
	}
	if d.Timeouts.Transcribe == 0 {
		d.Timeouts.Transcribe = 30 * time.Minute
	}
	if d.Timeouts.Summarize == 0 {
		d.Timeouts.Summarize = 5 * time.Minute
	}
	if d.Timeouts.Publish == 0 {
		d.Timeouts.Publish = 2 * time.Minute
	}
	return &Pipeline{
		repo:        d.Repo,
		store:       d.Store,
		fetcher:     d.Fetcher,
		extract:     d.Extract,
		transcriber: d.Transcriber,
		summarizer:  d.Summarizer,
		timeouts:    d.Timeouts,
	}
}

// Run 执行一次流水线。返回 nil 表示 notes 产物已发布，可以 FinalizeDone。
// 失败返回 *StageError（分类后的）或普通 error（当作瞬时处理）。
func (p *Pipeline) Run(ctx context.Context, task *repository.Task) error {
	taskID := task.TaskID
	audioKey := artifact.Key(taskID, model.ArtifactAudio)
	transcriptKey := artifact.Key(taskID, model.ArtifactTranscript)
	notesKey := artifact.Key(taskID, model.ArtifactNotes)

	// notes 已存在说明上一次尝试在 FinalizeDone 之前挂掉，直接收尾
	if task.HasOutput(model.ArtifactNotes) {
		logger.WithTaskID(taskID).Info().Msg("notes 产物已存在，跳过全部阶段")
		return nil
	}

	// fetch + extract_audio：audio checkpoint 覆盖两个阶段
	// （视频文件不落对象存储，没法跨尝试恢复半成品）
	if !task.HasOutput(model.ArtifactAudio) {
		if err := p.runFetchAndExtract(ctx, task, audioKey); err != nil {
			return err
		}
	} else {
		logger.WithTaskID(taskID).Info().Msg("audio 产物已存在，跳过 fetch/extract_audio")
	}

	// transcribe
	var transcript string
	if !task.HasOutput(model.ArtifactTranscript) {
		text, err := p.runTranscribe(ctx, task, audioKey, transcriptKey)
		if err != nil {
			return err
		}
		transcript = text
	} else {
		logger.WithTaskID(taskID).Info().Msg("transcript 产物已存在，跳过 transcribe")
	}

	// summarize：断点恢复时从存储取回转写文本
	if transcript == "" {
		b, err := p.store.GetBytes(ctx, transcriptKey)
		if err != nil {
			return transient(model.StageSummarize, model.ErrKindStorageError, "读取转写文本失败", err)
		}
		transcript = string(b)
	}

	summary, err := p.runSummarize(ctx, task, transcript)
	if err != nil {
		return err
	}

	// render → publish：文档内容在本次调用内存中传递
	notes, err := p.runRender(ctx, task, summary, transcriptKey)
	if err != nil {
		return err
	}

	return p.runPublish(ctx, task, notesKey, notes)
}

func (p *Pipeline) runFetchAndExtract(ctx context.Context, task *repository.Task, audioKey string) error {
	taskID := task.TaskID

	workDir, err := os.MkdirTemp("", "lecture-"+taskID+"-")
	if err != nil {
		return transient(model.StageFetch, model.ErrKindStorageError, "创建临时目录失败", err)
	}
	defer os.RemoveAll(workDir)

	videoPath := filepath.Join(workDir, "source.mp4")
	mp3Path := filepath.Join(workDir, "audio.mp3")

	// fetch
	if err := p.setStage(ctx, taskID, model.StageFetch); err != nil {
		return err
	}
	if err := p.timedStage(model.StageFetch, func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, p.timeouts.Fetch)
		defer cancel()
		if err := p.fetcher.Fetch(fetchCtx, task.SourceRef, videoPath); err != nil {
			if errors.Is(err, media.ErrSourceUnavailable) {
				return permanent(model.StageFetch, model.ErrKindSourceUnavailable, "源视频无法下载", err)
			}
			return transient(model.StageFetch, model.ErrKindSourceUnavailable, "源视频下载失败", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// extract_audio
	if err := p.setStage(ctx, taskID, model.StageExtractAudio); err != nil {
		return err
	}
	if err := p.timedStage(model.StageExtractAudio, func() error {
		if err := p.extract(ctx, videoPath, mp3Path); err != nil {
			if errors.Is(err, media.ErrUnsupportedFormat) {
				return permanent(model.StageExtractAudio, model.ErrKindUnsupportedFormat, "源文件无音轨或无法解码", err)
			}
			return transient(model.StageExtractAudio, model.ErrKindUnsupportedFormat, "音轨抽取失败", err)
		}

		f, err := os.Open(mp3Path)
		if err != nil {
			return transient(model.StageExtractAudio, model.ErrKindStorageError, "读取音频文件失败", err)
		}
		defer f.Close()

		if err := p.store.Put(ctx, audioKey, artifact.ContentType(model.ArtifactAudio), f); err != nil {
			return transient(model.StageExtractAudio, model.ErrKindStorageError, "音频上传失败", err)
		}
		return nil
	}); err != nil {
		return err
	}

	return p.putOutput(ctx, taskID, model.ArtifactAudio, audioKey)
}

func (p *Pipeline) runTranscribe(ctx context.Context, task *repository.Task, audioKey, transcriptKey string) (string, error) {
	taskID := task.TaskID
	if err := p.setStage(ctx, taskID, model.StageTranscribe); err != nil {
		return "", err
	}

	var text string
	err := p.timedStage(model.StageTranscribe, func() error {
		// 识别服务从预签名链接拉音频，有效期覆盖整个识别窗口
		audioURL, err := p.store.PresignGet(audioKey, p.timeouts.Transcribe+10*time.Minute)
		if err != nil {
			return transient(model.StageTranscribe, model.ErrKindStorageError, "生成音频下载链接失败", err)
		}

		trCtx, cancel := context.WithTimeout(ctx, p.timeouts.Transcribe)
		defer cancel()

		text, err = p.transcriber.Transcribe(trCtx, audioURL)
		if err != nil {
			if errors.Is(err, speech.ErrRecognitionRejected) {
				return permanent(model.StageTranscribe, model.ErrKindTranscriptionFailed, "语音识别服务拒绝请求", err)
			}
			return transient(model.StageTranscribe, model.ErrKindTranscriptionFailed, "语音识别未完成", err)
		}

		if err := p.store.PutBytes(ctx, transcriptKey, artifact.ContentType(model.ArtifactTranscript), []byte(text)); err != nil {
			return transient(model.StageTranscribe, model.ErrKindStorageError, "转写文本上传失败", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := p.putOutput(ctx, taskID, model.ArtifactTranscript, transcriptKey); err != nil {
		return "", err
	}
	return text, nil
}

func (p *Pipeline) runSummarize(ctx context.Context, task *repository.Task, transcript string) (string, error) {
	taskID := task.TaskID
	if err := p.setStage(ctx, taskID, model.StageSummarize); err != nil {
		return "", err
	}

	var summary string
	err := p.timedStage(model.StageSummarize, func() error {
		sumCtx, cancel := context.WithTimeout(ctx, p.timeouts.Summarize)
		defer cancel()

		var err error
		summary, err = p.summarizer.Summarize(sumCtx, task.Title, transcript)
		if err != nil {
			if errors.Is(err, summarize.ErrSummarizationRejected) {
				return permanent(model.StageSummarize, model.ErrKindSummarizationFailed, "摘要服务拒绝请求", err)
			}
			return transient(model.StageSummarize, model.ErrKindSummarizationFailed, "摘要生成未完成", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (p *Pipeline) runRender(ctx context.Context, task *repository.Task, summary, transcriptKey string) (string, error) {
	taskID := task.TaskID
	if err := p.setStage(ctx, taskID, model.StageRender); err != nil {
		return "", err
	}

	var notes string
	err := p.timedStage(model.StageRender, func() error {
		var err error
		notes, err = render.Notes(render.Document{
			Title:         task.Title,
			Summary:       summary,
			TranscriptRef: transcriptKey,
		})
		if err != nil {
			return permanent(model.StageRender, model.ErrKindRenderError, "笔记文档组装失败", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return notes, nil
}

func (p *Pipeline) runPublish(ctx context.Context, task *repository.Task, notesKey, notes string) error {
	taskID := task.TaskID
	if err := p.setStage(ctx, taskID, model.StagePublish); err != nil {
		return err
	}

	if err := p.timedStage(model.StagePublish, func() error {
		pubCtx, cancel := context.WithTimeout(ctx, p.timeouts.Publish)
		defer cancel()
		if err := p.store.PutBytes(pubCtx, notesKey, artifact.ContentType(model.ArtifactNotes), []byte(notes)); err != nil {
			return transient(model.StagePublish, model.ErrKindStorageError, "笔记发布失败", err)
		}
		return nil
	}); err != nil {
		return err
	}

	return p.putOutput(ctx, taskID, model.ArtifactNotes, notesKey)
}

// setStage 记录当前阶段。守卫未命中（任务被并发改写/终态）时原样返回 ErrConflict，
// 由 worker 放弃本次执行。
func (p *Pipeline) setStage(ctx context.Context, taskID string, stage model.Stage) error {
	if err := p.repo.SetStage(ctx, taskID, stage); err != nil {
		return err
	}
	logger.WithStage(taskID, string(stage)).Info().Msg("进入阶段")
	return nil
}

func (p *Pipeline) putOutput(ctx context.Context, taskID string, kind model.ArtifactKind, locator string) error {
	return p.repo.PutOutput(ctx, taskID, kind, locator)
}

// timedStage 包一层阶段耗时/结果指标
func (p *Pipeline) timedStage(stage model.Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStage(string(stage), err == nil, time.Since(start).Seconds())
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			metrics.RecordStageError(string(stage), string(se.Kind), se.Transient)
		}
	}
	return err
}
