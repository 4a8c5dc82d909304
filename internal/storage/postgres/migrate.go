package postgres

import (
	"fmt"

	"github.com/azhengyongqin/lecture-hub/internal/repository"
)

// AutoMigrate 按 GORM 模型同步 task 表结构。
// 两个进程（server/worker）启动时都会调用，AutoMigrate 本身幂等。
func (d *DB) AutoMigrate() error {
	if err := d.DB.AutoMigrate(&repository.TaskModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
