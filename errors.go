package watcher

import "errors"

var (
	// ErrInvalidTarget 目标不是本地文件系统路径（例如 http:// 或远程主机的 file:// URL）
	ErrInvalidTarget = errors.New("target is not a local filesystem path")
	// ErrTargetNotFound 目标路径不存在
	ErrTargetNotFound = errors.New("target does not exist")
	// ErrWatchUnavailable 操作系统拒绝打开或注册监控
	ErrWatchUnavailable = errors.New("watch unavailable")
	// ErrStopInProgress 上一次 Stop() 的清理尚未完成
	ErrStopInProgress = errors.New("stop in progress")
)

// TargetError 描述构造或启动 Watcher 失败的原因
//
// Op：失败的操作（"new" / "start"）
// Path：出问题的路径
// Kind：上面的某个哨兵错误，可用 errors.Is 判断
// Err：底层原因(可为空)
type TargetError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *TargetError) Error() string {
	msg := "watcher: " + e.Op + " " + e.Path + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TargetError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
