package watcher

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
)

// ConfigWatcher 用于配置 Watcher
//
// Path：要监控的目录，可以是普通路径或 file: URL
// TrackingEvent：要监控的活动类别, 默认 Modified
// Executor：投递变更/停止通知的执行器, 默认每个 Watcher 一个新的 ConcurrentExecutor
// Delegate：弱引用的 delegate, 可为空
// OnChange：变化时调用的回调, 可为空
// Bus：广播通知的 Bus, 默认 DefaultBus
// Backend：系统监控原语, 默认 DefaultBackend()
// Fs：检查路径是否存在时使用的文件系统, 默认 afero.NewOsFs()
// Logger：go-kit 日志, 默认不输出
// Metrics：prometheus 指标, 默认不注册
type ConfigWatcher struct {
	Path          string
	TrackingEvent Op
	Executor      Executor
	Delegate      DelegateRef
	OnChange      func()
	Bus           *Bus
	Backend       Backend
	Fs            afero.Fs
	Logger        log.Logger
	Metrics       *Metrics
}

// State 是 Watcher 的逻辑状态
type State int

const (
	// StateIdle 没有打开的系统句柄
	StateIdle State = iota
	// StateActive 句柄已打开，正在监控
	StateActive
	// StateStopping 已请求停止，句柄还未释放
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Watcher 监控一个目录，一次最多持有一个系统句柄
//
// 真正的状态放在 core 中；后台goroutine只持有 core，通过弱引用找回 Watcher，
// 这样没人引用的 Watcher 可以被回收，回收时自动停止监控
type Watcher struct {
	core *watcherCore
}

type watcherCore struct {
	path     string
	op       Op
	executor Executor
	onChange func()
	bus      *Bus
	backend  Backend
	fs       afero.Fs
	logger   log.Logger
	metrics  *Metrics

	self weak.Pointer[Watcher]

	mu       sync.Mutex
	delegate DelegateRef
	session  *session

	// lifecycleMu 串行化"打开新会话"与"清空旧会话+广播 stopped"，
	// 保证上一轮的 stopped 一定先于下一轮的 started
	lifecycleMu sync.Mutex
}

// session 对应一次 Active 周期
//
// owner 在显式 Stop 时设置，保证清理完成、stopped 发出之前 Watcher 不会被回收
type session struct {
	handle   Handle
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
	owner    *Watcher
}

func (s *session) cancel() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *session) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// NewWatcher 根据给定配置创建一个空闲的 Watcher
//
// 只校验路径，不打开任何系统资源：
// 非本地路径返回 ErrInvalidTarget，路径不存在返回 ErrTargetNotFound
func NewWatcher(cfg ConfigWatcher) (*Watcher, error) {
	path, err := resolveTarget(cfg.Path)
	if err != nil {
		return nil, &TargetError{Op: "new", Path: cfg.Path, Kind: ErrInvalidTarget, Err: err}
	}

	if cfg.TrackingEvent == 0 {
		cfg.TrackingEvent = Modified
	}
	if cfg.Executor == nil {
		cfg.Executor = NewConcurrentExecutor(defaultWorkerCount)
	}
	if cfg.Bus == nil {
		cfg.Bus = DefaultBus
	}
	if cfg.Backend == nil {
		cfg.Backend = DefaultBackend()
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	c := &watcherCore{
		path:     path,
		op:       cfg.TrackingEvent,
		executor: cfg.Executor,
		onChange: cfg.OnChange,
		bus:      cfg.Bus,
		backend:  cfg.Backend,
		fs:       cfg.Fs,
		logger:   log.With(cfg.Logger, "component", "dirwatcher", "path", path),
		metrics:  cfg.Metrics,
		delegate: cfg.Delegate,
	}
	if err := c.checkExists("new"); err != nil {
		return nil, err
	}

	w := &Watcher{core: c}
	c.self = weak.Make(w)
	runtime.AddCleanup(w, func(c *watcherCore) { c.stop(nil) }, c)
	return w, nil
}

// resolveTarget 把路径或 file: URL 转成绝对路径
//
// 单字母的 scheme 视为 Windows 盘符；解析失败且不含 "://" 的按普通路径处理(例如含 % 的文件名)
func resolveTarget(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("empty path")
	}
	u, err := url.Parse(target)
	if err != nil && strings.Contains(target, "://") {
		return "", err
	}
	if err == nil && len(u.Scheme) > 1 {
		if !strings.EqualFold(u.Scheme, "file") {
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		if u.Opaque != "" {
			return "", fmt.Errorf("file URL without absolute path %q", target)
		}
		if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
			return "", fmt.Errorf("remote host %q", u.Host)
		}
		if u.Path == "" {
			return "", errors.New("empty path")
		}
		target = filepath.FromSlash(u.Path)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func (c *watcherCore) checkExists(op string) error {
	if _, err := c.fs.Stat(c.path); err != nil {
		if os.IsNotExist(err) {
			return &TargetError{Op: op, Path: c.path, Kind: ErrTargetNotFound}
		}
		return &TargetError{Op: op, Path: c.path, Kind: ErrTargetNotFound, Err: err}
	}
	return nil
}

// Path 返回被监控的绝对路径
func (w *Watcher) Path() string { return w.core.path }

// TrackingEvent 返回监控的活动类别
func (w *Watcher) TrackingEvent() Op { return w.core.op }

// State 返回当前状态
func (w *Watcher) State() State {
	c := w.core
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.session == nil:
		return StateIdle
	case c.session.cancelled():
		return StateStopping
	default:
		return StateActive
	}
}

// SetDelegate 替换 delegate，对之后的通知生效
func (w *Watcher) SetDelegate(ref DelegateRef) {
	w.core.mu.Lock()
	w.core.delegate = ref
	w.core.mu.Unlock()
}

func (w *Watcher) String() string {
	return fmt.Sprintf("Watcher(%s, %s, %s)", w.core.path, w.core.op, w.State())
}

// Start 开始监控
//
// 已在监控中时直接返回nil，不会重复打开句柄，也不会重复发 started 通知
// 目标已被删除返回 ErrTargetNotFound；系统拒绝监控返回 ErrWatchUnavailable；
// 上一次 Stop 的清理还没完成返回 ErrStopInProgress
func (w *Watcher) Start() error {
	c := w.core
	if err := c.checkExists("start"); err != nil {
		return err
	}

	c.lifecycleMu.Lock()
	c.mu.Lock()
	if s := c.session; s != nil {
		c.mu.Unlock()
		c.lifecycleMu.Unlock()
		if s.cancelled() {
			return &TargetError{Op: "start", Path: c.path, Kind: ErrStopInProgress}
		}
		return nil
	}
	handle, err := c.backend.Open(c.path, c.op)
	if err == nil && handle == nil {
		err = errors.New("backend returned no handle")
	}
	if err != nil {
		c.mu.Unlock()
		c.lifecycleMu.Unlock()
		level.Warn(c.logger).Log("msg", "failed to open watch", "err", err)
		return &TargetError{Op: "start", Path: c.path, Kind: ErrWatchUnavailable, Err: err}
	}
	s := &session{handle: handle, done: make(chan struct{})}
	c.session = s
	c.mu.Unlock()
	c.lifecycleMu.Unlock()

	c.metrics.activeWatches.Inc()
	level.Debug(c.logger).Log("msg", "watch started", "event", c.op)

	// started 必须先于任何 changed，所以在事件循环启动前同步发出
	c.notifyStarted(w)
	go c.run(s)
	return nil
}

// Stop 请求停止监控并立即返回
//
// 句柄关闭、状态清理和 stopped 通知都在后台完成；空闲时或重复调用都是无操作，
// 也可以在回调内部调用。在 WatcherDidStop 内部调用 Start 会得到 ErrStopInProgress，
// 收到 WatchStopped 广播之后再 Start 则一定成功打开新的会话
func (w *Watcher) Stop() {
	w.core.stop(w)
}

// stop 的 owner 为nil表示 Watcher 已被回收
func (c *watcherCore) stop(owner *Watcher) {
	c.mu.Lock()
	s := c.session
	if s != nil && s.owner == nil {
		s.owner = owner
	}
	c.mu.Unlock()
	if s != nil {
		s.cancel()
	}
}

// run 是一次 Active 周期的事件循环，退出前负责清理
func (c *watcherCore) run(s *session) {
	events, errs := s.handle.Events(), s.handle.Errors()
	for {
		select {
		case <-s.done:
			c.teardown(s)
			return

		case _, ok := <-events:
			if !ok {
				// 底层句柄失效，按停止处理
				events = nil
				s.cancel()
				continue
			}
			if s.cancelled() {
				continue
			}
			c.dispatchChange(s)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.metrics.backendErrors.Inc()
			level.Warn(c.logger).Log("msg", "watch backend error", "err", err)
		}
	}
}

func (c *watcherCore) dispatchChange(s *session) {
	s.inflight.Add(1)
	c.executor.Execute(func() {
		defer s.inflight.Done()
		if s.cancelled() {
			return
		}
		w := c.self.Value()
		if w == nil {
			return
		}
		c.notifyChanged(w)
	})
}

// teardown 先释放句柄，再等正在投递的变更结束，最后发出 stopped
//
// 会话在 stopped 广播之前一直保留，期间 State() 为 StateStopping
func (c *watcherCore) teardown(s *session) {
	if err := s.handle.Close(); err != nil {
		level.Warn(c.logger).Log("msg", "failed to close watch", "err", err)
	}
	c.metrics.activeWatches.Dec()
	level.Debug(c.logger).Log("msg", "watch handle released")

	s.inflight.Wait()

	c.mu.Lock()
	w := s.owner
	s.owner = nil
	c.mu.Unlock()
	if w == nil {
		w = c.self.Value()
	}
	if w == nil {
		c.finish(s, nil)
		return
	}
	c.executor.Execute(func() { c.finish(s, w) })
}

// finish 清空会话并发出 stopped；w 为nil时只清空
func (c *watcherCore) finish(s *session, w *Watcher) {
	if w != nil {
		if d, ok := c.currentDelegate().(StopDelegate); ok {
			c.safely("delegate", func() { d.WatcherDidStop(w) })
		}
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
	level.Debug(c.logger).Log("msg", "watch stopped")

	if w != nil {
		c.publish(WatchStopped, w)
	}
}

func (c *watcherCore) currentDelegate() any {
	c.mu.Lock()
	ref := c.delegate
	c.mu.Unlock()
	return ref.get()
}

func (c *watcherCore) notifyStarted(w *Watcher) {
	if d, ok := c.currentDelegate().(StartDelegate); ok {
		c.safely("delegate", func() { d.WatcherDidStart(w) })
	}
	c.publish(WatchStarted, w)
}

// notifyChanged 依次调用回调、delegate、Bus，任何一个失败都不影响后面的
func (c *watcherCore) notifyChanged(w *Watcher) {
	if c.onChange != nil {
		c.safely("callback", c.onChange)
	}
	if d, ok := c.currentDelegate().(ChangeDelegate); ok {
		c.safely("delegate", func() { d.WatcherDidReceiveChange(w) })
	}
	c.publish(WatchChanged, w)
}

func (c *watcherCore) publish(name NotificationName, w *Watcher) {
	c.metrics.notifications.WithLabelValues(string(name)).Inc()
	c.safely("bus", func() {
		c.bus.Publish(Notification{Name: name, Watcher: w, Time: time.Now()})
	})
}

func (c *watcherCore) safely(observer string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.observerPanics.Inc()
			level.Warn(c.logger).Log("msg", "observer panicked", "observer", observer, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
