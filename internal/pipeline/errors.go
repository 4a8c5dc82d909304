package pipeline

import (
	"fmt"

	"github.com/azhengyongqin/lecture-hub/internal/model"
)

// StageError 阶段失败。
// Transient=false 表示永久失败（任务直接进 error 终态）；
// Transient=true 表示值得重试（由队列重投，直到尝试次数耗尽）。
// Message 是对外安全的摘要，下游服务的原始响应只进日志。
type StageError struct {
	Stage     model.Stage
	Kind      model.ErrorKind
	Transient bool
	Message   string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %s", e.Stage, e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func permanent(stage model.Stage, kind model.ErrorKind, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Transient: false, Message: message, Err: err}
}

func transient(stage model.Stage, kind model.ErrorKind, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Transient: true, Message: message, Err: err}
}
