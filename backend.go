package watcher

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Backend 是对操作系统目录变更通知原语的抽象
//
// Open 为 path 打开一个只用于接收事件的句柄，只转发 op 中包含的活动
type Backend interface {
	Open(path string, op Op) (Handle, error)
}

// Handle 是 Backend 打开的一个活动监控
//
// Events：每个底层通知发送一次，不做合并
// Errors：底层报告的非致命错误
// Close：释放系统资源，可以重复调用
type Handle interface {
	Events() <-chan struct{}
	Errors() <-chan error
	Close() error
}

// DefaultBackend 返回默认的 Backend(fsnotify)
func DefaultBackend() Backend {
	return FsnotifyBackend{}
}

const handleEventBuffer = 64

// FsnotifyBackend 基于 github.com/fsnotify/fsnotify，只监控目录本身，不递归
type FsnotifyBackend struct{}

func (FsnotifyBackend) Open(path string, op Op) (Handle, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	h := &fsnotifyHandle{
		fsw:    fsw,
		op:     op,
		events: make(chan struct{}, handleEventBuffer),
		errors: make(chan error, 4),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.run()
	return h, nil
}

type fsnotifyHandle struct {
	fsw    *fsnotify.Watcher
	op     Op
	events chan struct{}
	errors chan error

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (h *fsnotifyHandle) Events() <-chan struct{} { return h.events }
func (h *fsnotifyHandle) Errors() <-chan error    { return h.errors }

// run 把 fsnotify 的事件过滤后转发出去，直到 Close
func (h *fsnotifyHandle) run() {
	defer close(h.exited)
	for {
		select {
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return
			}
			if !h.op.Has(fromFsnotify(ev.Op)) {
				continue
			}
			select {
			case h.events <- struct{}{}:
			case <-h.done:
				return
			}

		case err, ok := <-h.fsw.Errors:
			if !ok {
				return
			}
			select {
			case h.errors <- err:
			case <-h.done:
				return
			}

		case <-h.done:
			return
		}
	}
}

func (h *fsnotifyHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.closeErr = h.fsw.Close()
		<-h.exited
	})
	return h.closeErr
}
