package walredo

import (
	"sync/atomic"

	"walredo/data"
)

// LogState 日志子系统中重做协程需要观察的状态
// 持久位置由追加端发布, 可见性 id 计数器只能通过比较并交换推进
type LogState interface {
	// DurablePosition 最新的可以安全重做的位置
	DurablePosition() data.LogPosition

	// MVCCNextID 下一个可见性 id
	MVCCNextID() data.MVCCID

	// CompareAndSwapMVCCNextID 计数器仍为 old 时替换为 new
	CompareAndSwapMVCCNextID(old, new data.MVCCID) bool
}

// AppendState 基于原子变量的 LogState 实现
type AppendState struct {
	durable  atomic.Uint64 // 打包后的位置
	mvccNext atomic.Uint64
}

// NewAppendState 新建状态, 持久位置为空
func NewAppendState(mvccNext data.MVCCID) *AppendState {
	st := &AppendState{}
	st.durable.Store(data.NullPosition.Pack())
	st.mvccNext.Store(uint64(mvccNext))
	return st
}

// NewAppendStateFromHeader 从日志头中取出追加位置和可见性 id 计数器
func NewAppendStateFromHeader(hdr *data.LogHeader) *AppendState {
	st := NewAppendState(hdr.MVCCNextID)
	st.PublishDurablePosition(hdr.AppendPos)
	return st
}

func (st *AppendState) DurablePosition() data.LogPosition {
	return data.UnpackPosition(st.durable.Load())
}

// PublishDurablePosition 发布新的持久位置, 只前进不后退, 返回是否更新
func (st *AppendState) PublishDurablePosition(pos data.LogPosition) bool {
	if pos.IsNull() {
		return false
	}
	for {
		old := st.durable.Load()
		cur := data.UnpackPosition(old)
		if !cur.IsNull() && pos.Compare(cur) <= 0 {
			return false
		}
		if st.durable.CompareAndSwap(old, pos.Pack()) {
			return true
		}
	}
}

func (st *AppendState) MVCCNextID() data.MVCCID {
	return data.MVCCID(st.mvccNext.Load())
}

func (st *AppendState) CompareAndSwapMVCCNextID(old, new data.MVCCID) bool {
	return st.mvccNext.CompareAndSwap(uint64(old), uint64(new))
}

// advanceMVCCNextID 保证计数器越过重做记录中的可见性 id
// id 不在计数器之前时把计数器推进到 id 的下一个值, 计数器只增不减
func advanceMVCCNextID(state LogState, id data.MVCCID) bool {
	if id == data.MVCCIDNull {
		return false
	}
	for {
		next := state.MVCCNextID()
		if data.MVCCIDPrecedes(id, next) {
			return false
		}
		if state.CompareAndSwapMVCCNextID(next, data.MVCCIDForward(id)) {
			return true
		}
	}
}
