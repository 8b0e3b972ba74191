package walredo

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"walredo/data"
	"walredo/reader"
	"walredo/recovery"
)

// ReplicatorState 重做协程的状态
type ReplicatorState int32

const (
	// StateIdle 重做位置已经追上持久位置
	StateIdle ReplicatorState = iota

	// StateReplaying 正在重做记录
	StateReplaying

	// StateHalted 遇到错误后停止
	StateHalted

	// StateClosed 已经关闭
	StateClosed
)

func (s ReplicatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReplaying:
		return "replaying"
	case StateHalted:
		return "halted"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ReplicatorStat 重做协程的统计信息
type ReplicatorStat struct {
	State           ReplicatorState
	Position        data.LogPosition // 当前重做位置
	DurablePosition data.LogPosition // 最新的持久位置
	MVCCNextID      data.MVCCID
	Rounds          uint64 // replayUntil 的调用次数
	Records         uint64 // 重做的记录数
	Skipped         uint64 // 跳过的记录数
	Err             error  // 停止的原因
}

// Replicator 持续把日志记录重做到最新的持久位置
// 只有后台协程推进重做位置, 其他协程可以等待它追上
type Replicator struct {
	options  Options
	state    LogState
	registry *recovery.Registry
	reader   *reader.Reader    // 只由重做协程使用
	undoBuf  *data.UnzipBuffer // undo 数据的解压缓冲区
	redoBuf  *data.UnzipBuffer // redo 数据的解压缓冲区
	metrics  *replicatorMetrics

	mu     *sync.Mutex
	cond   *sync.Cond
	pos    data.LogPosition // 当前重做位置, 由 mu 保护
	err    error            // 停止的原因, 由 mu 保护
	closed bool

	status  atomic.Int32
	rounds  atomic.Uint64
	records atomic.Uint64
	skipped atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	running   bool // 后台协程是否已经启动
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New 从 start 开始重做, 并立即启动后台协程
func New(start data.LogPosition, fetcher reader.PageFetcher, state LogState, registry *recovery.Registry, options Options) (*Replicator, error) {
	r, err := newReplicator(start, fetcher, state, registry, options)
	if err != nil {
		return nil, err
	}
	r.running = true
	go r.run()
	return r, nil
}

// newReplicator 初始化但不启动后台协程
func newReplicator(start data.LogPosition, fetcher reader.PageFetcher, state LogState, registry *recovery.Registry, options Options) (*Replicator, error) {
	if err := checkReplayOptions(options); err != nil {
		return nil, err
	}
	if start.IsNull() {
		return nil, ErrNullStartPosition
	}
	ctx, cancel := context.WithCancel(context.Background())
	mu := new(sync.Mutex)
	r := &Replicator{
		options:  options,
		state:    state,
		registry: registry,
		reader:   reader.New(fetcher, options.PageSize),
		undoBuf:  data.NewUnzipBuffer(options.UnzipBufferSize),
		redoBuf:  data.NewUnzipBuffer(options.UnzipBufferSize),
		metrics:  newReplicatorMetrics(options.Registerer),
		mu:       mu,
		cond:     sync.NewCond(mu),
		pos:      start,
		ctx:      ctx,
		cancel:   cancel,
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	r.metrics.positionPage.Set(float64(start.PageID))
	return r, nil
}

// run 后台协程, 空闲时按 ReplayInterval 轮询, 只在两轮追赶之间检查关闭
func (r *Replicator) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.options.ReplayInterval)
	defer ticker.Stop()

	for {
		if err := r.catchUp(r.ctx); err != nil {
			r.halt(err)
			return
		}
		select {
		case <-r.closeCh:
			return
		case <-ticker.C:
		}
	}
}

// catchUp 重做到持久位置, 持久位置在重做期间前进时继续追赶
func (r *Replicator) catchUp(ctx context.Context) error {
	for {
		target := r.state.DurablePosition()
		if target.IsNull() {
			return nil
		}
		r.metrics.durablePage.Set(float64(target.PageID))

		pos := r.Position()
		if cmp := pos.Compare(target); cmp >= 0 {
			if cmp > 0 {
				return fmt.Errorf("%w: position %s, durable %s", ErrRedoPastTarget, pos, target)
			}
			return nil
		}
		if err := r.replayUntil(ctx, target); err != nil {
			return err
		}
	}
}

// replayUntil 逐条重做记录, 直到重做位置等于 target
func (r *Replicator) replayUntil(ctx context.Context, target data.LogPosition) error {
	r.status.Store(int32(StateReplaying))
	defer r.status.CompareAndSwap(int32(StateReplaying), int32(StateIdle))

	r.rounds.Add(1)
	r.metrics.rounds.Inc()
	start := time.Now()
	defer func() {
		r.metrics.replayLatency.Observe(time.Since(start).Seconds())
		r.metrics.mvccNextID.Set(float64(r.state.MVCCNextID()))
	}()

	pos := r.Position()
	// 重新读取当前页, 避免使用之前缓存的过期页
	if err := r.reader.SetPositionAndFetch(pos, reader.FetchForce); err != nil {
		return err
	}

	for pos.Less(target) {
		if err := r.reader.SetPositionAndFetch(pos, reader.FetchNormal); err != nil {
			return err
		}
		hdr, err := r.readRecordHeader()
		if err != nil {
			return fmt.Errorf("read record header at %s: %w", pos, err)
		}
		forw := hdr.ForwPos
		if forw.IsNull() || forw.Compare(pos) <= 0 {
			return fmt.Errorf("%w: %s record at %s links to %s", ErrInvalidForwardLink, hdr.Kind, pos, forw)
		}
		if forw.Compare(target) > 0 {
			return fmt.Errorf("%w: %s record at %s ends at %s, durable %s", ErrRedoPastTarget, hdr.Kind, pos, forw, target)
		}

		rcv, err := r.decodeRecord(hdr, pos)
		if err != nil {
			return err
		}
		if rcv == nil {
			r.skipped.Add(1)
			r.metrics.skipped.Inc()
		} else {
			if err := r.dispatch(ctx, rcv); err != nil {
				return err
			}
			advanceMVCCNextID(r.state, rcv.MVCCID)
			r.records.Add(1)
			r.metrics.records.WithLabelValues(rcv.Kind.String()).Inc()
		}

		pos = forw
		r.mu.Lock()
		r.pos = pos
		if pos.Equal(target) {
			r.cond.Broadcast()
		}
		r.mu.Unlock()
		r.metrics.positionPage.Set(float64(pos.PageID))
	}
	return nil
}

func (r *Replicator) halt(err error) {
	log.Printf("[ERROR] walredo: replication halted at %s: %v", r.Position(), err)
	r.metrics.halts.Inc()
	r.status.Store(int32(StateHalted))

	r.mu.Lock()
	r.err = err
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Position 当前重做位置
func (r *Replicator) Position() data.LogPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Err 后台协程停止的原因, 正常运行时为 nil
func (r *Replicator) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// WaitForCatchUp 阻塞直到重做位置追上持久位置
// 每次被唤醒都会重新读取持久位置, 后台协程停止后仍然等待, 只有关闭才会提前返回
func (r *Replicator) WaitForCatchUp() {
	_ = r.wait(context.Background(), false)
}

// WaitForCatchUpContext 与 WaitForCatchUp 相同, 可以通过 ctx 取消等待
// 返回 ctx 的错误, 后台协程停止的原因, 或 ErrReplicatorClosed
func (r *Replicator) WaitForCatchUpContext(ctx context.Context) error {
	return r.wait(ctx, true)
}

// wait 等待重做位置追上持久位置, stopOnHalt 为 true 时后台协程停止后返回停止的原因
func (r *Replicator) wait(ctx context.Context, stopOnHalt bool) error {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		target := r.state.DurablePosition()
		if target.IsNull() || r.pos.Compare(target) >= 0 {
			return nil
		}
		if stopOnHalt && r.err != nil {
			return r.err
		}
		if r.closed {
			return ErrReplicatorClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.cond.Wait()
	}
}

// Stat 返回重做协程的统计信息
func (r *Replicator) Stat() *ReplicatorStat {
	r.mu.Lock()
	pos, err := r.pos, r.err
	r.mu.Unlock()
	return &ReplicatorStat{
		State:           ReplicatorState(r.status.Load()),
		Position:        pos,
		DurablePosition: r.state.DurablePosition(),
		MVCCNextID:      r.state.MVCCNextID(),
		Rounds:          r.rounds.Load(),
		Records:         r.records.Load(),
		Skipped:         r.skipped.Load(),
		Err:             err,
	}
}

// Close 停止后台协程并释放缓冲区, 正在进行的一轮重做会先完成
func (r *Replicator) Close() {
	r.closeOnce.Do(func() {
		close(r.closeCh)
		if r.running {
			<-r.doneCh
		}
		r.cancel()

		r.mu.Lock()
		r.closed = true
		r.cond.Broadcast()
		r.mu.Unlock()

		if r.Err() == nil {
			r.status.Store(int32(StateClosed))
		}
		r.undoBuf.Release()
		r.redoBuf.Release()
	})
}
