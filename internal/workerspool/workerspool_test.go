// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelcache/pkg/support/xsync"
)

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		const n = 1000
		var visited [n]atomic.Int32
		pool.ParallelFor(n, func(i int) { visited[i].Add(1) })
		for i := range visited {
			require.Equalf(t, int32(1), visited[i].Load(), "parallelism=%d, index %d", parallelism, i)
		}
	}
}

func TestPool_ParallelForPanics(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(4)
	var count atomic.Int32
	require.PanicsWithValue(t, "boom", func() {
		pool.ParallelFor(100, func(i int) {
			count.Add(1)
			if i == 10 {
				panic("boom")
			}
		})
	})
	assert.LessOrEqual(t, int(count.Load()), 100)

	// Workers were returned to the pool.
	done := xsync.NewLatch()
	require.True(t, pool.StartIfAvailable(done.Trigger))
	done.Wait()
}

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(2)
	release := xsync.NewLatch()
	var finished atomic.Int32
	task := func() {
		release.Wait()
		finished.Add(1)
	}
	require.True(t, pool.StartIfAvailable(task))
	require.True(t, pool.StartIfAvailable(task))
	assert.False(t, pool.StartIfAvailable(task))

	release.Trigger()
	assert.Eventually(t, func() bool { return finished.Load() == 2 }, time.Second, time.Millisecond)
	require.True(t, pool.StartIfAvailable(task))
	assert.Eventually(t, func() bool { return finished.Load() == 3 }, time.Second, time.Millisecond)

	// Disabled parallelism never starts a worker.
	pool.SetMaxParallelism(0)
	assert.False(t, pool.StartIfAvailable(task))

	// Unlimited parallelism always does.
	pool.SetMaxParallelism(-1)
	for range 8 {
		require.True(t, pool.StartIfAvailable(task))
	}
	assert.Eventually(t, func() bool { return finished.Load() == 11 }, time.Second, time.Millisecond)
}
