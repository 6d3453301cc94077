package watcher

import (
	"fmt"
	"sync"

	"github.com/rjeczalik/notify"
)

// NotifyBackend 基于 github.com/rjeczalik/notify
// (macOS 上是 FSEvents/kqueue，Linux 上是 inotify，Windows 上是 ReadDirectoryChangesW)
//
// notify 没有跨平台的属性变化事件，Chmod 会被忽略
//
// notify 向通道投递时不阻塞，通道满了就直接丢弃事件；
// 这里给它一个较大的缓冲，但短时间内的大量变更仍可能少报
type NotifyBackend struct{}

// notify 侧通道的缓冲，远大于 handleEventBuffer，给下游留出消化时间
const notifyEventBuffer = 1024

func (NotifyBackend) Open(path string, op Op) (Handle, error) {
	events := toNotifyEvents(op)
	if len(events) == 0 {
		return nil, fmt.Errorf("no notify events for %s", op)
	}

	c := make(chan notify.EventInfo, notifyEventBuffer)
	if err := notify.Watch(path, c, events...); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	h := &notifyHandle{
		c:      c,
		events: make(chan struct{}, handleEventBuffer),
		errors: make(chan error),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.run()
	return h, nil
}

func toNotifyEvents(op Op) []notify.Event {
	var events []notify.Event
	if op.Has(Create) {
		events = append(events, notify.Create)
	}
	if op.Has(Write) {
		events = append(events, notify.Write)
	}
	if op.Has(Remove) {
		events = append(events, notify.Remove)
	}
	if op.Has(Rename) {
		events = append(events, notify.Rename)
	}
	return events
}

type notifyHandle struct {
	c      chan notify.EventInfo
	events chan struct{}
	errors chan error

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func (h *notifyHandle) Events() <-chan struct{} { return h.events }

// Errors notify 不上报运行期错误，这个通道永远不会有数据
func (h *notifyHandle) Errors() <-chan error { return h.errors }

func (h *notifyHandle) run() {
	defer close(h.exited)
	for {
		select {
		case <-h.c:
			select {
			case h.events <- struct{}{}:
			case <-h.done:
				return
			}
		case <-h.done:
			return
		}
	}
}

func (h *notifyHandle) Close() error {
	h.closeOnce.Do(func() {
		notify.Stop(h.c)
		close(h.done)
		<-h.exited
	})
	return nil
}
