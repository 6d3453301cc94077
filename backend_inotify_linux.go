//go:build linux

package watcher

import (
	"errors"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrEventOverflow 内核事件队列溢出，期间的部分事件已丢失
var ErrEventOverflow = errors.New("inotify event queue overflow")

// InotifyBackend 直接使用 inotify 描述符(golang.org/x/sys/unix)，仅 Linux 可用
//
// 描述符以 IN_NONBLOCK 打开并交给运行时的 poller，Close 会让阻塞中的 Read 立即返回
type InotifyBackend struct{}

func (InotifyBackend) Open(path string, op Op) (Handle, error) {
	mask := inotifyMask(op)
	if mask == 0 {
		return nil, os.NewSyscallError("inotify_add_watch", unix.EINVAL)
	}

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, os.NewSyscallError("inotify_init1", err)
	}
	if _, err := unix.InotifyAddWatch(fd, path, mask); err != nil {
		_ = unix.Close(fd)
		return nil, &os.PathError{Op: "inotify_add_watch", Path: path, Err: err}
	}

	h := &inotifyHandle{
		f:      os.NewFile(uintptr(fd), path),
		mask:   mask,
		events: make(chan struct{}, handleEventBuffer),
		errors: make(chan error, 4),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go h.run()
	return h, nil
}

func inotifyMask(op Op) uint32 {
	var mask uint32
	if op.Has(Create) {
		mask |= unix.IN_CREATE | unix.IN_MOVED_TO
	}
	if op.Has(Write) {
		mask |= unix.IN_MODIFY
	}
	if op.Has(Remove) {
		mask |= unix.IN_DELETE | unix.IN_DELETE_SELF
	}
	if op.Has(Rename) {
		mask |= unix.IN_MOVED_FROM | unix.IN_MOVE_SELF
	}
	if op.Has(Chmod) {
		mask |= unix.IN_ATTRIB
	}
	return mask
}

type inotifyHandle struct {
	f      *os.File
	mask   uint32
	events chan struct{}
	errors chan error
	buf    [unix.SizeofInotifyEvent * 4096]byte

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (h *inotifyHandle) Events() <-chan struct{} { return h.events }
func (h *inotifyHandle) Errors() <-chan error    { return h.errors }

func (h *inotifyHandle) run() {
	defer close(h.exited)
	for {
		n, err := h.f.Read(h.buf[:])
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			h.sendError(err)
			return
		}

		var offset int
		for offset+unix.SizeofInotifyEvent <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&h.buf[offset]))
			offset += unix.SizeofInotifyEvent + int(raw.Len)

			switch {
			case raw.Mask&unix.IN_Q_OVERFLOW != 0:
				if !h.sendError(ErrEventOverflow) {
					return
				}
			case raw.Mask&h.mask != 0:
				select {
				case h.events <- struct{}{}:
				case <-h.done:
					return
				}
			}
			// 目录被删除或所在文件系统被卸载，之后不会再有事件
			if raw.Mask&unix.IN_IGNORED != 0 {
				<-h.done
				return
			}
		}
	}
}

func (h *inotifyHandle) sendError(err error) bool {
	select {
	case h.errors <- err:
		return true
	case <-h.done:
		return false
	}
}

func (h *inotifyHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.closeErr = h.f.Close()
		<-h.exited
	})
	return h.closeErr
}
