package watcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSerialExecutorKeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exec := NewSerialExecutor()
	var got []int
	for i := 0; i < 100; i++ {
		exec.Execute(func() { got = append(got, i) })
	}
	exec.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerialExecutorRunsInlineAfterClose(t *testing.T) {
	exec := NewSerialExecutor()
	exec.Close()

	// 关闭后不再排队，Execute 返回时任务已经执行完
	var ran atomic.Bool
	exec.Execute(func() { ran.Store(true) })
	assert.True(t, ran.Load())
}

func TestConcurrentExecutorLimit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	exec := NewConcurrentExecutor(2)
	release := make(chan struct{})
	var running, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		exec.Execute(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), peak.Load())
}

func TestConcurrentExecutorDefaultLimit(t *testing.T) {
	exec := NewConcurrentExecutor(0)
	done := make(chan struct{})
	exec.Execute(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}
