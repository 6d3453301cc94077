package watcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor 决定变更/停止通知在哪个执行上下文里投递
//
// Execute 不能阻塞调用方太久，Watcher 的事件循环会调用它；
// 提交的任务必须最终执行，不能丢弃，否则 Watcher 会一直停留在 StateStopping
type Executor interface {
	Execute(task func())
}

// 默认并发投递上限
const defaultWorkerCount = 32

// ConcurrentExecutor 每个任务一个goroutine，并发数由信号量限制
type ConcurrentExecutor struct {
	sem *semaphore.Weighted
}

// NewConcurrentExecutor 创建并发执行器
//
// 若 limit <= 0，则默认使用 32
func NewConcurrentExecutor(limit int64) *ConcurrentExecutor {
	if limit <= 0 {
		limit = defaultWorkerCount
	}
	return &ConcurrentExecutor{sem: semaphore.NewWeighted(limit)}
}

func (e *ConcurrentExecutor) Execute(task func()) {
	go func() {
		// Background 永不取消，Acquire 不会返回错误
		_ = e.sem.Acquire(context.Background(), 1)
		defer e.sem.Release(1)
		task()
	}()
}

// SerialExecutor 在同一个goroutine中按提交顺序逐个执行任务
//
// 适合需要所有通知都落在同一个线程上的场景(类似UI主队列)
// Close 之后提交的任务在调用方goroutine中直接执行；不要在任务内部调用 Close
type SerialExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

func (e *SerialExecutor) Execute(task func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		task()
		return
	}
	e.tasks = append(e.tasks, task)
	e.cond.Signal()
	e.mu.Unlock()
}

// Close 执行完已提交的任务后退出
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks[0]
		e.tasks[0] = nil
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		task()
	}
}
