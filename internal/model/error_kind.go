package model

// ErrorKind 任务失败原因分类，持久化在 task.error_kind 字段。
// 对外只暴露 kind + 安全摘要，绝不透传下游服务的原始响应。
type ErrorKind string

const (
	// ErrKindSourceUnavailable 源链接无法访问/下载失败（永久）
	ErrKindSourceUnavailable ErrorKind = "SourceUnavailable"
	// ErrKindUnsupportedFormat 源文件无音轨或格式无法解码（永久）
	ErrKindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	// ErrKindTranscriptionFailed 语音识别服务明确拒绝（永久）
	ErrKindTranscriptionFailed ErrorKind = "TranscriptionFailed"
	// ErrKindSummarizationFailed 摘要服务明确拒绝（永久）
	ErrKindSummarizationFailed ErrorKind = "SummarizationFailed"
	// ErrKindRenderError 笔记文档组装失败（永久）
	ErrKindRenderError ErrorKind = "RenderError"
	// ErrKindStorageError 对象存储写入/读取失败
	ErrKindStorageError ErrorKind = "StorageError"
	// ErrKindDispatchFailed 落库成功但入队失败（提交路径专用）
	ErrKindDispatchFailed ErrorKind = "DispatchFailed"
	// ErrKindAttemptsExhausted 瞬时错误重试次数耗尽
	ErrKindAttemptsExhausted ErrorKind = "AttemptsExhausted"
)

func (k ErrorKind) Valid() bool {
	switch k {
	case ErrKindSourceUnavailable, ErrKindUnsupportedFormat, ErrKindTranscriptionFailed,
		ErrKindSummarizationFailed, ErrKindRenderError, ErrKindStorageError,
		ErrKindDispatchFailed, ErrKindAttemptsExhausted:
		return true
	default:
		return false
	}
}
