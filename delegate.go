package watcher

import "weak"

// StartDelegate 在 Watcher 开始监控后被调用
type StartDelegate interface {
	WatcherDidStart(w *Watcher)
}

// StopDelegate 在 Watcher 释放句柄、停止监控后被调用
type StopDelegate interface {
	WatcherDidStop(w *Watcher)
}

// ChangeDelegate 在观察到目录变化时被调用
type ChangeDelegate interface {
	WatcherDidReceiveChange(w *Watcher)
}

// DelegateRef 是对 delegate 的非持有引用，零值表示没有 delegate
//
// delegate 可以实现上面三个接口中的任意几个，没实现的钩子直接跳过
type DelegateRef struct {
	load func() any
}

// WeakDelegate 以弱引用包装 d
//
// Watcher 不会因此让 d 存活；d 被回收后所有钩子自动失效
func WeakDelegate[T any](d *T) DelegateRef {
	if d == nil {
		return DelegateRef{}
	}
	p := weak.Make(d)
	return DelegateRef{load: func() any {
		if v := p.Value(); v != nil {
			return v
		}
		return nil
	}}
}

// get 返回仍然存活的 delegate，没有则返回nil
func (r DelegateRef) get() any {
	if r.load == nil {
		return nil
	}
	return r.load()
}
