package model

// Stage 流水线阶段枚举，持久化在 task.stage 字段。
// 顺序固定：fetch → extract_audio → transcribe → summarize → render → publish
type Stage string

const (
	StageFetch        Stage = "fetch"
	StageExtractAudio Stage = "extract_audio"
	StageTranscribe   Stage = "transcribe"
	StageSummarize    Stage = "summarize"
	StageRender       Stage = "render"
	StagePublish      Stage = "publish"
)

// Stages 按执行顺序返回全部阶段
func Stages() []Stage {
	return []Stage{StageFetch, StageExtractAudio, StageTranscribe, StageSummarize, StageRender, StagePublish}
}

func (s Stage) Valid() bool {
	switch s {
	case StageFetch, StageExtractAudio, StageTranscribe, StageSummarize, StageRender, StagePublish:
		return true
	default:
		return false
	}
}
