package data

import (
	"encoding/binary"
	"fmt"
)

// LogPositionSize 打包后的日志位置长度
const LogPositionSize = 8

// NullPosition 空的日志位置
var NullPosition = LogPosition{PageID: -1, Offset: -1}

// LogPosition 日志流中的位置, 由逻辑页号和页内偏移组成
// 偏移是相对于页头之后的数据区的
type LogPosition struct {
	PageID int64 // 逻辑页号
	Offset int16 // 数据区内的偏移
}

// Compare 比较两个位置, 先比较页号, 再比较偏移
func (p LogPosition) Compare(o LogPosition) int {
	switch {
	case p.PageID < o.PageID:
		return -1
	case p.PageID > o.PageID:
		return 1
	case p.Offset < o.Offset:
		return -1
	case p.Offset > o.Offset:
		return 1
	}
	return 0
}

func (p LogPosition) Less(o LogPosition) bool {
	return p.Compare(o) < 0
}

func (p LogPosition) Equal(o LogPosition) bool {
	return p == o
}

func (p LogPosition) IsNull() bool {
	return p == NullPosition
}

func (p LogPosition) String() string {
	return fmt.Sprintf("%d|%d", p.PageID, p.Offset)
}

// Pack 页号占高 48 位, 偏移占低 16 位
func (p LogPosition) Pack() uint64 {
	if p.IsNull() {
		return ^uint64(0)
	}
	return uint64(p.PageID)<<16 | uint64(uint16(p.Offset))
}

// UnpackPosition 从打包的值中还原日志位置
func UnpackPosition(v uint64) LogPosition {
	if v == ^uint64(0) {
		return NullPosition
	}
	return LogPosition{
		PageID: int64(v >> 16),
		Offset: int16(uint16(v)),
	}
}

func putPosition(buf []byte, p LogPosition) {
	binary.LittleEndian.PutUint64(buf, p.Pack())
}

func getPosition(buf []byte) LogPosition {
	return UnpackPosition(binary.LittleEndian.Uint64(buf))
}
