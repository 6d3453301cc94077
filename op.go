package watcher

import (
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Op 表示要监控的文件系统活动类别，可以按位组合
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
	Chmod
)

const (
	// Modified 目录内容发生变化(增、删、改、重命名)，是默认的监控类别
	Modified = Create | Write | Remove | Rename
	// All 包括属性变化在内的全部活动
	All = Modified | Chmod
)

// Has 判断 op 是否包含 other 中的任意一位
func (op Op) Has(other Op) bool { return op&other != 0 }

func (op Op) String() string {
	if op == 0 {
		return "NONE"
	}
	var b strings.Builder
	for _, n := range []struct {
		op   Op
		name string
	}{
		{Create, "CREATE"},
		{Write, "WRITE"},
		{Remove, "REMOVE"},
		{Rename, "RENAME"},
		{Chmod, "CHMOD"},
	} {
		if op.Has(n.op) {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(n.name)
		}
	}
	return b.String()
}

// fromFsnotify 把 fsnotify.Op 转成本包的 Op
func fromFsnotify(fop fsnotify.Op) Op {
	var op Op
	if fop.Has(fsnotify.Create) {
		op |= Create
	}
	if fop.Has(fsnotify.Write) {
		op |= Write
	}
	if fop.Has(fsnotify.Remove) {
		op |= Remove
	}
	if fop.Has(fsnotify.Rename) {
		op |= Rename
	}
	if fop.Has(fsnotify.Chmod) {
		op |= Chmod
	}
	return op
}
