package data

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// PageHeaderSize 页头: 逻辑页号 8 + 首条记录偏移 2 + 填充 2 + crc 4
	PageHeaderSize = 16

	// Alignment 记录在页内按 8 字节对齐
	Alignment = 8

	DefaultPageSize = 4 * 1024
	MinPageSize     = 256
	MaxPageSize     = 32 * 1024

	// NoRecordOffset 表示页内没有以此页开始的记录
	NoRecordOffset int16 = -1
)

// LogPage 固定大小的日志页
type LogPage struct {
	PageID            int64  // 无限日志中的逻辑页号
	FirstRecordOffset int16  // 页内第一条记录的偏移
	Checksum          uint32 // crc 校验值
	Area              []byte // 页头之后的数据区
}

// CheckPageSize 校验页大小是否合法
func CheckPageSize(pageSize int) error {
	if pageSize < MinPageSize || pageSize > MaxPageSize || pageSize%Alignment != 0 {
		return ErrInvalidPageSize
	}
	return nil
}

// AreaSize 返回一个页的数据区大小
func AreaSize(pageSize int) int {
	return pageSize - PageHeaderSize
}

// NewLogPage 新建一个空的日志页
func NewLogPage(pageID int64, pageSize int) *LogPage {
	return &LogPage{
		PageID:            pageID,
		FirstRecordOffset: NoRecordOffset,
		Area:              make([]byte, AreaSize(pageSize)),
	}
}

// Size 页的总大小
func (lp *LogPage) Size() int {
	return PageHeaderSize + len(lp.Area)
}

// Seal 重新计算校验值
func (lp *LogPage) Seal() {
	lp.Checksum = lp.computeChecksum()
}

// VerifyChecksum 校验页内容是否完整
func (lp *LogPage) VerifyChecksum() error {
	if lp.computeChecksum() != lp.Checksum {
		return ErrCorruptPage
	}
	return nil
}

// Clone 深拷贝, 缓冲区中的页可能会被写入方替换
func (lp *LogPage) Clone() *LogPage {
	cp := *lp
	cp.Area = append([]byte(nil), lp.Area...)
	return &cp
}

func (lp *LogPage) computeChecksum() uint32 {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(lp.PageID))
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(lp.FirstRecordOffset))
	crc := crc32.ChecksumIEEE(hdr[:])
	return crc32.Update(crc, crc32.IEEETable, lp.Area)
}

// EncodePage 对日志页进行编码
func EncodePage(lp *LogPage) []byte {
	buf := make([]byte, lp.Size())
	binary.LittleEndian.PutUint64(buf[0:8], uint64(lp.PageID))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(lp.FirstRecordOffset))
	binary.LittleEndian.PutUint32(buf[12:16], lp.Checksum)
	copy(buf[PageHeaderSize:], lp.Area)
	return buf
}

// DecodePage 解码日志页, 不做校验
func DecodePage(buf []byte, pageSize int) (*LogPage, error) {
	if len(buf) < pageSize {
		return nil, ErrShortPage
	}
	lp := &LogPage{
		PageID:            int64(binary.LittleEndian.Uint64(buf[0:8])),
		FirstRecordOffset: int16(binary.LittleEndian.Uint16(buf[8:10])),
		Checksum:          binary.LittleEndian.Uint32(buf[12:16]),
		Area:              make([]byte, AreaSize(pageSize)),
	}
	copy(lp.Area, buf[PageHeaderSize:pageSize])
	return lp, nil
}

// AlignUp 按 Alignment 向上对齐
func AlignUp(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
