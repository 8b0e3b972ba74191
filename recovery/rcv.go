package recovery

import (
	"context"

	"walredo/data"
)

// Rcv 交给重做函数的一条已解码记录
// Data 和 Undo 引用重做协程的临时缓冲区, 只在调用期间有效
type Rcv struct {
	Kind         data.RecordKind
	RcvIndex     int32
	Addr         data.PageAddr
	Position     data.LogPosition // 记录的开始位置, 即页 LSA
	ForwPosition data.LogPosition // 下一条记录的位置
	RefPosition  data.LogPosition // run postpone 的 postpone 位置, 或补偿记录的 undo next 位置
	MVCCID       data.MVCCID
	Undo         []byte // undo/redo 类型的 undo 镜像
	Data         []byte // redo 镜像, 差异类型已经还原
}

// RedoFunc 某一资源类型的重做函数, 在重做协程上同步调用
type RedoFunc func(ctx context.Context, rcv *Rcv) error
