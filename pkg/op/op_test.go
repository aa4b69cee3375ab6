package op

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOp struct {
	retIsFD bool
	n       int
}

func (f fakeOp) RetIsFD() bool    { return f.retIsFD }
func (fakeOp) SkipCancel() bool   { return false }
func (fakeOp) LegacyInterest() (Direction, int, bool) { return DirRead, 0, false }
func (fakeOp) LegacyCall() (MaybeFd, error)           { return MaybeFd{}, nil }

type fakeDriver struct {
	lifecycles map[int]*Lifecycle
	dropped    []int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{lifecycles: map[int]*Lifecycle{}}
}

func (d *fakeDriver) insert(isFd bool) int {
	idx := len(d.lifecycles)
	d.lifecycles[idx] = NewLifecycle(isFd)
	return idx
}

func (d *fakeDriver) complete(idx int, result uint32, err error) {
	d.lifecycles[idx].Complete(result, err, 0)
}

func (d *fakeDriver) PollOp(index int, data OpAble, wake func()) (CompletionMeta, bool) {
	return d.lifecycles[index].PollOp(wake)
}

func (d *fakeDriver) DropOp(index int, data OpAble, skipCancel bool) {
	d.dropped = append(d.dropped, index)
	d.lifecycles[index].Drop(data)
}

func TestOpPollReadyImmediately(t *testing.T) {
	drv := newFakeDriver()
	idx := drv.insert(true)
	drv.complete(idx, 9, nil)

	o := NewOp[fakeOp](drv, idx, fakeOp{retIsFD: true})
	completion, ready, err := o.Poll(context.Background())

	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, uint32(9), completion.Meta.Result.Fd())
}

func TestOpPollBlocksThenCompletes(t *testing.T) {
	drv := newFakeDriver()
	idx := drv.insert(false)

	o := NewOp[fakeOp](drv, idx, fakeOp{})

	done := make(chan struct{})
	go func() {
		completion, ready, err := o.Poll(context.Background())
		assert.NoError(t, err)
		assert.True(t, ready)
		assert.Equal(t, uint32(5), completion.Meta.Result.Fd())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	drv.complete(idx, 5, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("op did not complete")
	}
}

func TestOpPollContextCancelled(t *testing.T) {
	drv := newFakeDriver()
	idx := drv.insert(false)

	o := NewOp[fakeOp](drv, idx, fakeOp{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ready, err := o.Poll(ctx)
	assert.False(t, ready)
	assert.Error(t, err)
}

func TestOpDropBeforeCompletion(t *testing.T) {
	drv := newFakeDriver()
	idx := drv.insert(false)

	o := NewOp[fakeOp](drv, idx, fakeOp{})
	o.Drop()

	assert.Contains(t, drv.dropped, idx)
}

func TestMaybeFdCloseIsIdempotent(t *testing.T) {
	m := NewFdResult(^uint32(0))
	m.Close()
	m.Close()
}
