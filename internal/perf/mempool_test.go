package perf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(4,
		func() *bytes.Buffer { return &bytes.Buffer{} },
		func(b *bytes.Buffer) { b.Reset() })

	buf := p.Acquire()
	buf.WriteString("scratch data")
	p.Release(buf)

	again := p.Acquire()
	assert.Same(t, buf, again, "released object should be reused")
	assert.Zero(t, again.Len(), "reset must run before reuse")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Reused)
}

func TestPoolCapacityBound(t *testing.T) {
	p := NewPool(2,
		func() *bytes.Buffer { return &bytes.Buffer{} },
		nil)

	bufs := []*bytes.Buffer{p.Acquire(), p.Acquire(), p.Acquire()}
	for _, b := range bufs {
		p.Release(b)
	}

	assert.Equal(t, 2, p.Len(), "pool never holds more than its capacity")
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPoolClear(t *testing.T) {
	p := NewPool(8,
		func() *bytes.Buffer { return &bytes.Buffer{} },
		nil)

	a, b := p.Acquire(), p.Acquire()
	p.Release(a)
	p.Release(b)
	assert.Equal(t, 2, p.Len())

	p.Clear()
	assert.Equal(t, 0, p.Len())

	// The pool keeps working after a pressure cleanup.
	buf := p.Acquire()
	assert.NotNil(t, buf)
	assert.Equal(t, int64(3), p.Stats().Created)
}

func TestPoolZeroCapacityDropsAll(t *testing.T) {
	p := NewPool(0,
		func() []byte { return make([]byte, 64) },
		nil)

	obj := p.Acquire()
	p.Release(obj)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, int64(1), p.Stats().Dropped)
}
