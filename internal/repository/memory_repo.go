package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/azhengyongqin/lecture-hub/internal/model"
)

// MemoryRepo 内存实现，语义与 TaskRepo 对齐（守卫更新、append-only outputs）。
// 用于单测和本地无 Postgres 的快速联调。
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[string]Task // key: task_id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items: map[string]Task{},
	}
}

func (s *MemoryRepo) CreateTask(_ context.Context, t Task) error {
	if t.TaskID == "" {
		return errors.New("task_id 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t.TaskID]; ok {
		return errors.New("task_id 已存在")
	}
	if t.Outputs == nil {
		t.Outputs = map[model.ArtifactKind]string{}
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.items[t.TaskID] = t
	return nil
}

func (s *MemoryRepo) GetTask(_ context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := t
	cp.Outputs = copyOutputs(t.Outputs)
	return &cp, nil
}

func (s *MemoryRepo) BeginAttempt(_ context.Context, taskID string, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[taskID]
	if !ok {
		return ErrConflict
	}
	if t.Status != model.TaskStatusQueued && t.Status != model.TaskStatusProcessing {
		return ErrConflict
	}
	if t.AttemptCount != expected {
		return ErrConflict
	}
	t.Status = model.TaskStatusProcessing
	t.AttemptCount++
	t.UpdatedAt = time.Now()
	s.items[taskID] = t
	return nil
}

func (s *MemoryRepo) SetStage(_ context.Context, taskID string, stage model.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[taskID]
	if !ok || t.Status != model.TaskStatusProcessing {
		return ErrConflict
	}
	t.Stage = stage
	t.UpdatedAt = time.Now()
	s.items[taskID] = t
	return nil
}

func (s *MemoryRepo) PutOutput(_ context.Context, taskID string, kind model.ArtifactKind, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[taskID]
	if !ok {
		return ErrConflict
	}
	if t.Outputs == nil {
		t.Outputs = map[model.ArtifactKind]string{}
	} else {
		t.Outputs = copyOutputs(t.Outputs)
	}
	// append-only：已有 key 不覆盖
	if _, exists := t.Outputs[kind]; !exists {
		t.Outputs[kind] = locator
	}
	t.UpdatedAt = time.Now()
	s.items[taskID] = t
	return nil
}

func (s *MemoryRepo) FinalizeDone(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[taskID]
	if !ok || t.Status != model.TaskStatusProcessing {
		return ErrConflict
	}
	if _, hasNotes := t.Outputs[model.ArtifactNotes]; !hasNotes {
		return ErrConflict
	}
	t.Status = model.TaskStatusDone
	t.ErrorKind = ""
	t.ErrorMessage = ""
	t.UpdatedAt = time.Now()
	s.items[taskID] = t
	return nil
}

func (s *MemoryRepo) FinalizeError(_ context.Context, taskID string, kind model.ErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[taskID]
	if !ok || t.Status.Terminal() {
		return ErrConflict
	}
	t.Status = model.TaskStatusError
	t.ErrorKind = kind
	t.ErrorMessage = message
	t.UpdatedAt = time.Now()
	s.items[taskID] = t
	return nil
}

func (s *MemoryRepo) ListTasks(_ context.Context, f ListTasksFilter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Task
	for _, t := range s.items {
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		cp := t
		cp.Outputs = copyOutputs(t.Outputs)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *MemoryRepo) CountTasks(_ context.Context, f ListTasksFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.items {
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryRepo) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.items, taskID)
	return nil
}

func copyOutputs(in map[model.ArtifactKind]string) map[model.ArtifactKind]string {
	out := make(map[model.ArtifactKind]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
