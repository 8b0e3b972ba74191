package walredo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walredo/data"
	"walredo/pagebuf"
	"walredo/recovery"
	"walredo/utils"
)

const (
	testPageSize        = data.MinPageSize
	testRcvIndex  int32 = 100
	otherRcvIndex int32 = 999
)

type redoCall struct {
	Kind     data.RecordKind
	Addr     data.PageAddr
	Position data.LogPosition
	Forw     data.LogPosition
	Ref      data.LogPosition
	MVCCID   data.MVCCID
	Undo     []byte
	Data     []byte
}

// redoRecorder 记录每一次重做调用, 数据拷贝出来保存
type redoRecorder struct {
	mu    sync.Mutex
	calls []redoCall
	hook  func(rcv *recovery.Rcv)
}

func (rr *redoRecorder) redo(_ context.Context, rcv *recovery.Rcv) error {
	rr.mu.Lock()
	rr.calls = append(rr.calls, redoCall{
		Kind:     rcv.Kind,
		Addr:     rcv.Addr,
		Position: rcv.Position,
		Forw:     rcv.ForwPosition,
		Ref:      rcv.RefPosition,
		MVCCID:   rcv.MVCCID,
		Undo:     append([]byte(nil), rcv.Undo...),
		Data:     append([]byte(nil), rcv.Data...),
	})
	hook := rr.hook
	rr.mu.Unlock()
	if hook != nil {
		hook(rcv)
	}
	return nil
}

func (rr *redoRecorder) Calls() []redoCall {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]redoCall(nil), rr.calls...)
}

func newTestRegistry(t *testing.T, rr *redoRecorder) *recovery.Registry {
	reg := recovery.NewRegistry()
	require.Nil(t, reg.Register(testRcvIndex, "test_redo", rr.redo))
	return reg
}

func testOptions() Options {
	opts := DefaultOptions
	opts.PageSize = testPageSize
	opts.UnzipBufferSize = 64
	return opts
}

func testAddr(i int) data.PageAddr {
	return data.PageAddr{VolID: 0, PageID: int32(i)}
}

func newTestBuilder() *data.LogBuilder {
	return data.NewLogBuilder(testPageSize, data.LogPosition{PageID: 0, Offset: 0})
}

func newMemoryLog(t *testing.T, b *data.LogBuilder) *pagebuf.MemoryBuffer {
	buf := pagebuf.NewMemoryBuffer(testPageSize)
	require.Nil(t, buf.PutPages(b.Pages()...))
	return buf
}

// appendRedos 追加 n 条 redo 记录, 返回每条记录的位置以及结束位置
func appendRedos(b *data.LogBuilder, n int) []data.LogPosition {
	var ps []data.LogPosition
	for i := 0; i < n; i++ {
		ps = append(ps, b.AppendRedo(testRcvIndex, testAddr(i), data.MVCCIDNull, []byte(fmt.Sprintf("redo-%d", i))))
	}
	return append(ps, b.EndPosition())
}

func TestReplicator_ReplayInOrder(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 3)

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(ps[3])
	rr := &redoRecorder{}
	r, err := newReplicator(ps[0], newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	err = r.catchUp(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, ps[3], r.Position())

	calls := rr.Calls()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, data.LogRedoData, c.Kind)
		assert.Equal(t, ps[i], c.Position)
		assert.Equal(t, ps[i+1], c.Forw)
		assert.Equal(t, testAddr(i), c.Addr)
		assert.Equal(t, []byte(fmt.Sprintf("redo-%d", i)), c.Data)
	}

	// 持久位置不变时, 再次追赶不会重做任何记录
	for i := 0; i < 3; i++ {
		assert.Nil(t, r.catchUp(context.Background()))
	}
	assert.Len(t, rr.Calls(), 3)
	assert.Equal(t, uint64(1), r.Stat().Rounds)
	assert.Equal(t, ps[3], r.Position())
}

func TestReplicator_PositionMonotonic(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 12)

	state := NewAppendState(data.MVCCIDFirst)
	buf := newMemoryLog(t, b)
	var last data.LogPosition
	rr := &redoRecorder{}
	r, err := newReplicator(ps[0], buf, state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)
	last = r.Position()

	for _, target := range []int{2, 2, 5, 9, 12} {
		state.PublishDurablePosition(ps[target])
		assert.Nil(t, r.catchUp(context.Background()))
		pos := r.Position()
		assert.False(t, pos.Less(last))
		assert.Equal(t, ps[target], pos)
		last = pos
	}
	assert.Len(t, rr.Calls(), 12)
}

func TestReplicator_MVCCWatermark(t *testing.T) {
	b := newTestBuilder()
	p0 := b.AppendRedo(testRcvIndex, testAddr(0), data.MVCCIDNull, []byte("a"))
	b.AppendRedo(testRcvIndex, testAddr(1), 42, []byte("b"))
	b.AppendRedo(testRcvIndex, testAddr(2), 7, []byte("c"))
	end := b.EndPosition()

	state := NewAppendState(10)
	state.PublishDurablePosition(end)
	rr := &redoRecorder{}
	r, err := newReplicator(p0, newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	assert.Nil(t, r.catchUp(context.Background()))
	calls := rr.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, data.LogMVCCRedoData, calls[1].Kind)
	assert.Equal(t, data.MVCCID(42), calls[1].MVCCID)
	assert.Equal(t, data.MVCCIDNull, calls[0].MVCCID)

	// 较小的 id 不会让计数器后退
	assert.Equal(t, data.MVCCID(43), state.MVCCNextID())
}

func TestReplicator_Waiters(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 3)

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(ps[3])
	rr := &redoRecorder{}
	r, err := newReplicator(ps[0], newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	released := make(chan data.LogPosition, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r.WaitForCatchUp()
			released <- r.Position()
		}()
	}

	// 没有重做之前, 等待的协程不能返回
	select {
	case pos := <-released:
		t.Fatalf("waiter released early at %s", pos)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Nil(t, r.catchUp(context.Background()))
	for i := 0; i < 2; i++ {
		select {
		case pos := <-released:
			assert.Equal(t, ps[3], pos)
		case <-time.After(time.Second):
			t.Fatal("waiter was not released")
		}
	}
}

func TestReplicator_WaitForCatchUpContext(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 2)

	state := NewAppendState(data.MVCCIDFirst)
	rr := &redoRecorder{}
	r, err := newReplicator(ps[0], newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	// 没有发布持久位置时不需要等待
	assert.Nil(t, r.WaitForCatchUpContext(context.Background()))

	state.PublishDurablePosition(ps[2])
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = r.WaitForCatchUpContext(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	r.Close()
	err = r.WaitForCatchUpContext(context.Background())
	assert.Equal(t, ErrReplicatorClosed, err)
}

func TestReplicator_CorruptPage(t *testing.T) {
	b := newTestBuilder()
	p0 := b.AppendRedo(testRcvIndex, testAddr(0), data.MVCCIDNull, []byte("first"))
	// 第二条记录的数据跨入下一页
	p1 := b.AppendRedo(testRcvIndex, testAddr(1), data.MVCCIDNull, bytes.Repeat([]byte("x"), 200))
	b.AppendRedo(testRcvIndex, testAddr(2), data.MVCCIDNull, []byte("third"))
	end := b.EndPosition()
	require.Equal(t, int64(0), p1.PageID)

	pages := b.Pages()
	require.True(t, len(pages) >= 2)
	pages[1].Area[0] ^= 0xff
	buf := pagebuf.NewMemoryBuffer(testPageSize)
	require.Nil(t, buf.PutPages(pages...))

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(end)
	rr := &redoRecorder{}
	r, err := newReplicator(p0, buf, state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	err = r.catchUp(context.Background())
	assert.True(t, errors.Is(err, ErrCorruptPage))
	assert.Equal(t, p1, r.Position())
	calls := rr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, p0, calls[0].Position)
}

func TestReplicator_HaltOnError(t *testing.T) {
	b := newTestBuilder()
	p0 := b.AppendRedo(testRcvIndex, testAddr(0), data.MVCCIDNull, []byte("ok"))
	p1 := b.AppendRedo(otherRcvIndex, testAddr(1), data.MVCCIDNull, []byte("nobody handles this"))
	end := b.EndPosition()

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(end)
	rr := &redoRecorder{}
	r, err := New(p0, newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)
	defer r.Close()

	err = r.WaitForCatchUpContext(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownRcvIndex))
	assert.True(t, errors.Is(r.Err(), ErrUnknownRcvIndex))

	stat := r.Stat()
	assert.Equal(t, StateHalted, stat.State)
	assert.Equal(t, p1, stat.Position)
	assert.Equal(t, uint64(1), stat.Records)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.halts))
}

func TestReplicator_WaitForCatchUpAfterHalt(t *testing.T) {
	b := newTestBuilder()
	p0 := b.AppendRedo(testRcvIndex, testAddr(0), data.MVCCIDNull, []byte("ok"))
	b.AppendRedo(otherRcvIndex, testAddr(1), data.MVCCIDNull, []byte("nobody handles this"))
	end := b.EndPosition()

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(end)
	r, err := New(p0, newMemoryLog(t, b), state, newTestRegistry(t, &redoRecorder{}), testOptions())
	require.Nil(t, err)

	require.True(t, errors.Is(r.WaitForCatchUpContext(context.Background()), ErrUnknownRcvIndex))

	// 停止后重做位置没有追上持久位置, 等待者不能返回
	done := make(chan struct{})
	go func() {
		r.WaitForCatchUp()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("WaitForCatchUp returned at %s before reaching %s", r.Position(), end)
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, r.Position().Less(end))

	// 关闭之后等待者返回
	r.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForCatchUp still blocked after Close")
	}
}

func TestReplicator_MovingTarget(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 5)

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(ps[3])
	rr := &redoRecorder{}
	rr.hook = func(rcv *recovery.Rcv) {
		// 重做过程中追加端发布了新的持久位置
		if rcv.Position == ps[1] {
			state.PublishDurablePosition(ps[5])
		}
	}
	r, err := newReplicator(ps[0], newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	assert.Nil(t, r.catchUp(context.Background()))
	assert.Equal(t, ps[5], r.Position())
	assert.Len(t, rr.Calls(), 5)
	assert.Equal(t, uint64(2), r.Stat().Rounds)
}

func TestReplicator_SkipIrrelevantKinds(t *testing.T) {
	b := newTestBuilder()
	p0 := b.AppendRedo(testRcvIndex, testAddr(0), data.MVCCIDNull, []byte("before"))
	b.AppendKind(data.LogCommit)
	b.Append(data.LogUndoData, 7, make([]byte, 20), []byte("undo image only"))
	b.AppendKind(data.LogDummy)
	p4 := b.AppendRedo(testRcvIndex, testAddr(1), data.MVCCIDNull, []byte("after"))
	end := b.EndPosition()

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(end)
	rr := &redoRecorder{}
	r, err := newReplicator(p0, newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	assert.Nil(t, r.catchUp(context.Background()))
	assert.Equal(t, end, r.Position())
	calls := rr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, p0, calls[0].Position)
	assert.Equal(t, p4, calls[1].Position)
	assert.Equal(t, data.MVCCIDFirst, state.MVCCNextID())

	stat := r.Stat()
	assert.Equal(t, uint64(3), stat.Skipped)
	assert.Equal(t, uint64(2), stat.Records)
}

func TestReplicator_PastTarget(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 2)

	// 持久位置落在记录中间
	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(data.LogPosition{PageID: ps[0].PageID, Offset: ps[0].Offset + 8})
	rr := &redoRecorder{}
	r, err := newReplicator(ps[0], newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)
	err = r.catchUp(context.Background())
	assert.True(t, errors.Is(err, ErrRedoPastTarget))
	assert.Len(t, rr.Calls(), 0)
	assert.Equal(t, ps[0], r.Position())

	// 重做位置已经超过持久位置
	state = NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(ps[0])
	r, err = newReplicator(ps[1], newMemoryLog(t, b), state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)
	err = r.catchUp(context.Background())
	assert.True(t, errors.Is(err, ErrRedoPastTarget))
}

func TestReplicator_UnexpectedEndOfLog(t *testing.T) {
	b := newTestBuilder()
	p0 := b.AppendRedo(testRcvIndex, testAddr(0), data.MVCCIDNull, []byte("a"))
	b.AppendRedo(testRcvIndex, testAddr(1), data.MVCCIDNull, bytes.Repeat([]byte("y"), 400))
	end := b.EndPosition()

	// 只有第一页可以读到
	page, ok := b.Page(0)
	require.True(t, ok)
	buf := pagebuf.NewMemoryBuffer(testPageSize)
	require.Nil(t, buf.PutPages(page))

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(end)
	rr := &redoRecorder{}
	r, err := newReplicator(p0, buf, state, newTestRegistry(t, rr), testOptions())
	require.Nil(t, err)

	err = r.catchUp(context.Background())
	assert.True(t, errors.Is(err, ErrUnexpectedEndOfLog))
	assert.Len(t, rr.Calls(), 1)
}

func TestReplicator_Daemon(t *testing.T) {
	b := newTestBuilder()
	ps := appendRedos(b, 2)
	buf := newMemoryLog(t, b)

	state := NewAppendState(data.MVCCIDFirst)
	state.PublishDurablePosition(ps[2])
	rr := &redoRecorder{}
	opts := testOptions()
	opts.Registerer = prometheus.NewRegistry()
	r, err := New(ps[0], buf, state, newTestRegistry(t, rr), opts)
	require.Nil(t, err)
	defer r.Close()

	r.WaitForCatchUp()
	assert.Equal(t, ps[2], r.Position())

	// 追加端写入新的页后再发布持久位置
	b.AppendRedo(testRcvIndex, testAddr(7), 99, utils.RandomValue(100))
	end := b.EndPosition()
	require.Nil(t, buf.PutPages(b.Pages()...))
	state.PublishDurablePosition(end)

	r.WaitForCatchUp()
	assert.Equal(t, end, r.Position())
	assert.Len(t, rr.Calls(), 3)
	assert.Equal(t, data.MVCCID(100), state.MVCCNextID())
	assert.Equal(t, float64(2), testutil.ToFloat64(r.metrics.records.WithLabelValues("redo")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.records.WithLabelValues("mvcc_redo")))

	r.Close()
	assert.Equal(t, StateClosed, r.Stat().State)
	assert.Nil(t, r.Err())
}

func TestNew_InvalidOptions(t *testing.T) {
	buf := pagebuf.NewMemoryBuffer(testPageSize)
	state := NewAppendState(data.MVCCIDFirst)
	reg := recovery.NewRegistry()

	_, err := New(data.NullPosition, buf, state, reg, testOptions())
	assert.Equal(t, ErrNullStartPosition, err)

	opts := testOptions()
	opts.ReplayInterval = 0
	_, err = New(data.LogPosition{}, buf, state, reg, opts)
	assert.Equal(t, ErrInvalidReplayInterval, err)

	opts = testOptions()
	opts.PageSize = 100
	_, err = New(data.LogPosition{}, buf, state, reg, opts)
	assert.Equal(t, data.ErrInvalidPageSize, err)
}
