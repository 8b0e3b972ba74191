package data

import (
	"github.com/klauspost/compress/s2"
)

// zipFlag 长度字段的最高位, 置位表示数据经过压缩
const zipFlag uint32 = 1 << 31

// IsZipped 长度字段是否标识了压缩数据
func IsZipped(length int32) bool {
	return uint32(length)&zipFlag != 0
}

// StoredLength 数据在日志中实际占用的长度
func StoredLength(length int32) int {
	return int(uint32(length) &^ zipFlag)
}

// ZipLength 为压缩后的长度加上标识
func ZipLength(n int) int32 {
	return int32(uint32(n) | zipFlag)
}

// ZipPayload 压缩数据, 返回的长度字段已带压缩标识
func ZipPayload(src []byte) ([]byte, int32) {
	enc := s2.Encode(nil, src)
	return enc, ZipLength(len(enc))
}

// UnzipBuffer 解压缩用的临时缓冲区, 可以在多次调用间重复使用
// 只增长不收缩, 不是并发安全的
type UnzipBuffer struct {
	raw []byte // 从日志中读出的原始数据
	out []byte // 解压后的数据
}

// NewUnzipBuffer 按初始容量新建缓冲区
func NewUnzipBuffer(size int) *UnzipBuffer {
	return &UnzipBuffer{
		raw: make([]byte, 0, size),
		out: make([]byte, 0, size),
	}
}

// Load 返回长度为 n 的原始数据区, 用于从日志中读取数据
func (ub *UnzipBuffer) Load(n int) []byte {
	if cap(ub.raw) < n {
		ub.raw = make([]byte, n)
	}
	ub.raw = ub.raw[:n]
	return ub.raw
}

// Unzip 解压 src, 返回的切片在下一次调用前有效
func (ub *UnzipBuffer) Unzip(src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if cap(ub.out) < n {
		ub.out = make([]byte, n)
	}
	out, err := s2.Decode(ub.out[:n], src)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cap 当前缓冲区容量
func (ub *UnzipBuffer) Cap() int {
	return cap(ub.raw) + cap(ub.out)
}

// Release 释放缓冲区
func (ub *UnzipBuffer) Release() {
	ub.raw = nil
	ub.out = nil
}

// ApplyDiff redo 数据以与 undo 数据异或的形式存放, 还原出 redo 镜像
func ApplyDiff(redo, undo []byte) {
	n := len(redo)
	if len(undo) < n {
		n = len(undo)
	}
	for i := 0; i < n; i++ {
		redo[i] ^= undo[i]
	}
}
