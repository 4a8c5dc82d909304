package model

// ArtifactKind 产物类型，作为 task.outputs 的 key。
// outputs 是 append-only 的 kind → 存储定位符映射。
type ArtifactKind string

const (
	ArtifactAudio      ArtifactKind = "audio"
	ArtifactTranscript ArtifactKind = "transcript"
	ArtifactNotes      ArtifactKind = "notes"
)

func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactAudio, ArtifactTranscript, ArtifactNotes:
		return true
	default:
		return false
	}
}
