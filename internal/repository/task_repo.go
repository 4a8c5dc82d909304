package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/azhengyongqin/lecture-hub/internal/model"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) CreateTask(ctx context.Context, t Task) error {
	if t.TaskID == "" {
		return errors.New("task_id 不能为空")
	}
	outputs := t.Outputs
	if outputs == nil {
		outputs = map[model.ArtifactKind]string{}
	}
	b, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	// 时间戳显式写 now()：schema 由 AutoMigrate 生成，不依赖列默认值
	_, err = r.pool.Exec(ctx, `
insert into task(task_id, title, source_ref, status, stage, outputs, error_kind, error_message, attempt_count, created_at, updated_at)
values ($1,$2,$3,$4,nullif($5,''),$6,nullif($7,''),nullif($8,''),$9,now(),now())
`, t.TaskID, t.Title, t.SourceRef, string(t.Status), string(t.Stage), b, string(t.ErrorKind), t.ErrorMessage, t.AttemptCount)
	return err
}

func (r *TaskRepo) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := r.pool.QueryRow(ctx, `
select task_id, title, source_ref, status, coalesce(stage,''), outputs, coalesce(error_kind,''), coalesce(error_message,''), attempt_count, created_at, updated_at
from task
where task_id=$1
`, taskID)

	var (
		t       Task
		status  string
		stage   string
		outputs []byte
		errKind string
		errMsg  string
	)
	if err := row.Scan(&t.TaskID, &t.Title, &t.SourceRef, &status, &stage, &outputs, &errKind, &errMsg, &t.AttemptCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Stage = model.Stage(stage)
	t.ErrorKind = model.ErrorKind(errKind)
	t.ErrorMessage = errMsg
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &t.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	return &t, nil
}

// BeginAttempt 守卫领取：只有非终态且 attempt_count 未被并发修改时才会命中。
// queued 和 processing 都允许领取（processing 代表上一次尝试中途挂掉后的重投）。
func (r *TaskRepo) BeginAttempt(ctx context.Context, taskID string, expected int) error {
	tag, err := r.pool.Exec(ctx, `
update task
set status=$2, attempt_count=attempt_count+1, updated_at=now()
where task_id=$1
  and status in ($3,$4)
  and attempt_count=$5
`, taskID, string(model.TaskStatusProcessing), string(model.TaskStatusQueued), string(model.TaskStatusProcessing), expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *TaskRepo) SetStage(ctx context.Context, taskID string, stage model.Stage) error {
	tag, err := r.pool.Exec(ctx, `
update task
set stage=$2, updated_at=now()
where task_id=$1 and status=$3
`, taskID, string(stage), string(model.TaskStatusProcessing))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// PutOutput append-only：jsonb 合并，已有 key 不覆盖。
func (r *TaskRepo) PutOutput(ctx context.Context, taskID string, kind model.ArtifactKind, locator string) error {
	_, err := r.pool.Exec(ctx, `
update task
set outputs = outputs || jsonb_build_object($2::text, $3::text), updated_at=now()
where task_id=$1 and not outputs ? $2
`, taskID, string(kind), locator)
	return err
}

// FinalizeDone 只有 notes 产物已记录才允许进入 done，防止出现“完成但无笔记”的状态。
func (r *TaskRepo) FinalizeDone(ctx context.Context, taskID string) error {
	tag, err := r.pool.Exec(ctx, `
update task
set status=$2, error_kind=null, error_message=null, updated_at=now()
where task_id=$1 and status=$3 and outputs ? $4
`, taskID, string(model.TaskStatusDone), string(model.TaskStatusProcessing), string(model.ArtifactNotes))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *TaskRepo) FinalizeError(ctx context.Context, taskID string, kind model.ErrorKind, message string) error {
	tag, err := r.pool.Exec(ctx, `
update task
set status=$2, error_kind=$3, error_message=$4, updated_at=now()
where task_id=$1 and status not in ($5,$6)
`, taskID, string(model.TaskStatusError), string(kind), message, string(model.TaskStatusDone), string(model.TaskStatusError))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *TaskRepo) ListTasks(ctx context.Context, f ListTasksFilter) ([]Task, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
select task_id, title, source_ref, status, coalesce(stage,''), outputs, coalesce(error_kind,''), coalesce(error_message,''), attempt_count, created_at, updated_at
from task
where ($1='' or status=$1)
order by created_at desc
limit $2 offset $3
`, f.Status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t       Task
			status  string
			stage   string
			outputs []byte
			errKind string
			errMsg  string
		)
		if err := rows.Scan(&t.TaskID, &t.Title, &t.SourceRef, &status, &stage, &outputs, &errKind, &errMsg, &t.AttemptCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = model.TaskStatus(status)
		t.Stage = model.Stage(stage)
		t.ErrorKind = model.ErrorKind(errKind)
		t.ErrorMessage = errMsg
		if len(outputs) > 0 {
			if err := json.Unmarshal(outputs, &t.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal outputs: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) CountTasks(ctx context.Context, f ListTasksFilter) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
select count(*)
from task
where ($1='' or status=$1)
`, f.Status).Scan(&count)
	return count, err
}

func (r *TaskRepo) DeleteTask(ctx context.Context, taskID string) error {
	tag, err := r.pool.Exec(ctx, `delete from task where task_id=$1`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
