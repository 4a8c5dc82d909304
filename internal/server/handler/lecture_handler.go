package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/azhengyongqin/lecture-hub/internal/model"
	"github.com/azhengyongqin/lecture-hub/internal/repository"
	"github.com/azhengyongqin/lecture-hub/internal/server/dto"
	"github.com/azhengyongqin/lecture-hub/internal/service"
)

// LectureHandler 讲座任务 API Handler
type LectureHandler struct {
	svc *service.LectureService
}

// NewLectureHandler 创建 LectureHandler
func NewLectureHandler(svc *service.LectureService) *LectureHandler {
	return &LectureHandler{svc: svc}
}

// Submit godoc
// @Summary 提交讲座处理任务
// @Description 创建任务行并入队，立即返回 task_id，处理在后台进行
// @Tags Lectures
// @Accept json
// @Produce json
// @Param request body dto.SubmitLectureRequest true "任务提交请求"
// @Success 202 {object} dto.SubmitLectureResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /lectures [post]
func (h *LectureHandler) Submit(c *gin.Context) {
	var req dto.SubmitLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	task, err := h.svc.Submit(c.Request.Context(), req.Title, req.SourceRef)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		case errors.Is(err, service.ErrDispatchFailed):
			c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "任务入队失败"})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitLectureResponse{
		TaskID: task.TaskID,
		Status: string(task.Status),
	})
}

// Get godoc
// @Summary 获取任务详情
// @Description 根据 task_id 获取任务状态、阶段和产物定位符
// @Tags Lectures
// @Produce json
// @Param task_id path string true "任务 ID"
// @Success 200 {object} dto.LectureResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /lectures/{task_id} [get]
func (h *LectureHandler) Get(c *gin.Context) {
	taskID := c.Param("task_id")
	task, err := h.svc.GetStatus(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task 不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.LectureResponse{Item: task})
}

// List godoc
// @Summary 查询任务列表
// @Description 分页查询任务列表，支持按状态过滤
// @Tags Lectures
// @Produce json
// @Param status query string false "任务状态（queued/processing/done/error）"
// @Param limit query int false "每页数量" default(50)
// @Param offset query int false "偏移量" default(0)
// @Success 200 {object} dto.LectureListResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /lectures [get]
func (h *LectureHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.svc.List(c.Request.Context(), repository.ListTasksFilter{
		Status: c.DefaultQuery("status", ""),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if items == nil {
		items = []repository.Task{}
	}
	c.JSON(http.StatusOK, dto.LectureListResponse{Items: items, Total: total})
}

// GetArtifact godoc
// @Summary 获取产物下载链接
// @Description 为指定产物签发临时下载链接，产物未生成时返回 404
// @Tags Lectures
// @Produce json
// @Param task_id path string true "任务 ID"
// @Param kind path string true "产物类型（audio/transcript/notes）"
// @Success 200 {object} dto.ArtifactURLResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /lectures/{task_id}/artifacts/{kind} [get]
func (h *LectureHandler) GetArtifact(c *gin.Context) {
	taskID := c.Param("task_id")
	kind := c.Param("kind")

	url, err := h.svc.ArtifactURL(c.Request.Context(), taskID, model.ArtifactKind(kind))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task 不存在"})
		case errors.Is(err, service.ErrArtifactNotReady):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "产物尚未生成"})
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ArtifactURLResponse{
		TaskID: taskID,
		Kind:   kind,
		URL:    url,
	})
}

// Delete godoc
// @Summary 删除任务
// @Description 删除任务记录及其产物（管理端清理用）
// @Tags Lectures
// @Produce json
// @Param task_id path string true "任务 ID"
// @Success 200 {object} dto.SuccessResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /lectures/{task_id} [delete]
func (h *LectureHandler) Delete(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := h.svc.Delete(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task 不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Status: "ok", Message: "任务已删除"})
}
