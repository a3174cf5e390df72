package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// task はキューに積まれる1件の作業
type task struct {
	name string
	fn   func(ctx context.Context)
}

// Queue はプロセス内の有界ワーカープール。
// Enqueue は容量超過時にブロックせずエラーを返す
type Queue struct {
	tasks   chan task
	logger  *slog.Logger
	workers int
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type queueOptions struct {
	logger *slog.Logger
}

// Option は Queue のオプション設定
type Option func(*queueOptions)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *queueOptions) {
		o.logger = logger
	}
}

// New は新しい Queue を作成する
func New(workers, capacity int, opts ...Option) *Queue {
	options := queueOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}

	return &Queue{
		tasks:   make(chan task, capacity),
		logger:  options.logger,
		workers: workers,
	}
}

// Start はワーカーを起動する。ctx のキャンセルは実行中のタスクに伝播する
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for t := range q.tasks {
				q.logger.Debug("タスクを開始", "worker", workerID, "task", t.name)
				t.fn(ctx)
				q.logger.Debug("タスクが終了", "worker", workerID, "task", t.name)
			}
		}(i)
	}
}

// Enqueue はタスクを積む。キューが満杯または停止済みの場合はエラーを返す
func (q *Queue) Enqueue(name string, fn func(ctx context.Context)) error {
	if q.closed.Load() {
		return fmt.Errorf("queue is shut down")
	}

	select {
	case q.tasks <- task{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

// Shutdown は受付を停止し、積まれた全タスクの完了を待つ
func (q *Queue) Shutdown() {
	if q.closed.Swap(true) {
		return
	}
	close(q.tasks)
	q.wg.Wait()
}
