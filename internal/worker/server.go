package worker

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/azhengyongqin/lecture-hub/internal/logger"
	asynqx "github.com/azhengyongqin/lecture-hub/internal/queue"
)

// Server asynq 消费端封装。
// Concurrency 固定为 1：流水线里 ffmpeg 和长轮询都是重活，
// 单 worker 进程内不做并行，扩容靠加进程。
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewServer(redisURI, queueName string, h *Handler) (*Server, error) {
	opt, err := asynqx.NewRedisConnOpt(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queueName: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(asynqx.TypeLectureProcess, h.ProcessTask)

	return &Server{srv: srv, mux: mux}, nil
}

// Run 阻塞运行直到 Shutdown
func (s *Server) Run() error {
	logger.Info().Msg("worker 开始消费")
	return s.srv.Run(s.mux)
}

// Shutdown 优雅停止：等待当前任务执行完
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
