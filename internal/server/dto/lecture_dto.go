package dto

import "github.com/azhengyongqin/lecture-hub/internal/repository"

// ErrorResponse 通用错误响应
type ErrorResponse struct {
	Error string `json:"error" example:"task 不存在"`
}

// SubmitLectureRequest 提交讲座处理任务请求
type SubmitLectureRequest struct {
	Title     string `json:"title" binding:"required" example:"操作系统第三讲"`
	SourceRef string `json:"source_ref" binding:"required" example:"https://disk.yandex.ru/i/abc123"`
}

// SubmitLectureResponse 提交讲座处理任务响应
type SubmitLectureResponse struct {
	TaskID string `json:"task_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Status string `json:"status" example:"queued"`
}

// LectureResponse 任务详情响应
type LectureResponse struct {
	Item *repository.Task `json:"item"`
}

// LectureListResponse 任务列表响应
type LectureListResponse struct {
	Items []repository.Task `json:"items"`
	Total int               `json:"total"`
}

// ArtifactURLResponse 产物下载链接响应
type ArtifactURLResponse struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind" example:"notes"`
	URL    string `json:"url"`
}
