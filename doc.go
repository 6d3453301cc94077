// Package watcher 监控单个目录，在目录内容发生变化时通知使用方。
//
// 核心特点：
//   - 每个 Watcher 只持有一个操作系统层面的监控句柄（fsnotify / notify / inotify）
//   - Start() / Stop() 幂等：重复 Start 不会重复打开句柄，空闲时 Stop 什么也不做
//   - 每次底层通知都会依次投递给三个观察通道：OnChange 回调、Delegate、全局 Bus
//   - Stop() 只发出取消请求并立即返回，句柄的关闭与 "stopped" 通知在后台完成
//   - Delegate 以弱引用方式保存，不会延长 Watcher 或其拥有者的生命周期
//   - Watcher 被GC回收时若仍处于监控状态，会自动走同一条取消路径，不泄漏句柄
//
// 注意：
//   - 不会告诉你具体哪个文件变了，只告诉你"有变化"
//   - 不递归监控子目录，不做防抖/合并，每个底层事件都会转发一次
//   - 使用默认的 ConcurrentExecutor 时，不同事件之间没有顺序保证
//   - OnChange 闭包如果强引用了 Watcher 本身，Watcher 就无法被自动回收，请显式调用 Stop()
//
// 推荐使用方式：
//  1. 配置 ConfigWatcher（至少填写 Path）
//  2. 通过 NewWatcher 创建 Watcher（此时只做路径校验，不占用系统资源）
//  3. 调用 Start() 开始监控
//  4. 通过 OnChange / Delegate / Bus.Subscribe() 接收变更
//  5. 调用 Stop() 结束监控，等待 WatchStopped 通知确认句柄已释放
//
// 并发安全：
//   - Start()、Stop()、State() 可以在任意 goroutine 中调用，也可以在回调内部调用
//   - 观察者中的 panic 会被捕获并记录日志，不影响其它观察者
package watcher
