package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// NotificationName 全局广播事件的名称
type NotificationName string

const (
	WatchStarted NotificationName = "dirwatcher.started"
	WatchStopped NotificationName = "dirwatcher.stopped"
	WatchChanged NotificationName = "dirwatcher.changed"
)

// Notification 是 Bus 上广播的一条消息
type Notification struct {
	Name    NotificationName
	Watcher *Watcher
	Time    time.Time
}

const defaultSubscriberBufferSize = 128

// BusOptions 用于配置 Bus
//
// Name：日志中使用的名字
// SubscriberBufferSize：每个订阅者的通道缓冲, 默认 128
// BlockOnFull：订阅者通道满时是否阻塞等待(默认丢弃)
// WriteTimeout：BlockOnFull 时的最长等待，超时后移除该订阅者；<=0 表示一直等
// Logger：记录丢弃/超时
type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	BlockOnFull          bool
	WriteTimeout         time.Duration
	Logger               log.Logger
}

// Bus 是进程内的发布/订阅通道，可以有任意多个互不相关的订阅者
//
// 订阅者通过 Subscribe 注册，通过返回的 cancel 函数注销；Close 之后所有订阅通道都会被关闭
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	logger      log.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

type subscription struct {
	id     uint64
	ch     chan Notification
	filter func(Notification) bool
}

// DefaultBus 进程级别的 Bus，生命周期与进程相同，不会被关闭
//
// ConfigWatcher.Bus 为空时使用它
var DefaultBus = NewBus(BusOptions{Name: "default"})

func NewBus(opts BusOptions) *Bus {
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.Name == "" {
		opts.Name = "dirwatcher"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Bus{
		subscribers: make(map[uint64]subscription),
		options:     opts,
		logger:      log.With(logger, "bus", opts.Name),
	}
}

// Subscribe 订阅全部通知
func (b *Bus) Subscribe() (<-chan Notification, func()) {
	return b.subscribe(nil)
}

// SubscribeNames 只订阅指定名称的通知
func (b *Bus) SubscribeNames(names ...NotificationName) (<-chan Notification, func()) {
	set := make(map[NotificationName]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return b.subscribe(func(n Notification) bool {
		_, ok := set[n.Name]
		return ok
	})
}

// SubscribeWatcher 只订阅某一个 Watcher 发出的通知
func (b *Bus) SubscribeWatcher(w *Watcher) (<-chan Notification, func()) {
	return b.subscribe(func(n Notification) bool {
		return n.Watcher == w
	})
}

func (b *Bus) subscribe(filter func(Notification) bool) (<-chan Notification, func()) {
	ch := make(chan Notification, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = subscription{id: id, ch: ch, filter: filter}
	b.mu.Unlock()

	return ch, func() { b.removeSubscriber(id) }
}

// Publish 把通知发给所有匹配的订阅者，Close 之后调用无效果
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subscribers := make([]subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	for _, sub := range subscribers {
		if sub.filter != nil && !sub.filter(n) {
			continue
		}
		if b.options.BlockOnFull {
			b.blockingSend(sub, n)
		} else {
			b.nonBlockingSend(sub, n)
		}
	}
}

func (b *Bus) nonBlockingSend(sub subscription, n Notification) {
	delivered := b.safeSend(sub, func() bool {
		select {
		case sub.ch <- n:
			return true
		default:
			return false
		}
	})
	if !delivered {
		b.dropped.Add(1)
		level.Warn(b.logger).Log("msg", "subscriber full, notification dropped", "name", n.Name)
	}
}

func (b *Bus) blockingSend(sub subscription, n Notification) {
	delivered := b.safeSend(sub, func() bool {
		if b.options.WriteTimeout <= 0 {
			sub.ch <- n
			return true
		}
		timer := time.NewTimer(b.options.WriteTimeout)
		defer timer.Stop()
		select {
		case sub.ch <- n:
			return true
		case <-timer.C:
			return false
		}
	})
	if !delivered {
		b.dropped.Add(1)
		b.removeSubscriber(sub.id)
		level.Warn(b.logger).Log("msg", "subscriber timed out and was removed", "name", n.Name, "timeout", b.options.WriteTimeout)
	}
}

// safeSend 订阅者在发送途中注销会关闭通道，这里吞掉向已关闭通道发送的panic
func (b *Bus) safeSend(sub subscription, send func() bool) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()
	return send()
}

func (b *Bus) removeSubscriber(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Close 关闭所有订阅通道，之后的 Publish 不再投递
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription)
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Published 返回 Publish 被调用的次数
func (b *Bus) Published() int64 { return b.published.Load() }

// Dropped 返回因订阅者来不及消费而丢弃的通知数
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
