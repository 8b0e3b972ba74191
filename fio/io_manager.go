package fio

import "errors"

const DataFilePerm = 0644

var ErrReadOnly = errors.New("io manager is read only")

type FileIOType = byte

const (
	// StandardFIO 标准文件 IO
	StandardFIO FileIOType = iota

	// MemoryMap 内存文件映射, 只读
	MemoryMap
)

// IOManager 抽象 IO 管理接口, 可以接入不同的 IO 类型, 目前支持标准文件 IO 和内存映射
type IOManager interface {
	// Read 从文件给定位置读取数据
	Read([]byte, int64) (int, error)

	// Write 写入字节数组到文件末尾
	Write([]byte) (int, error)

	// WriteAt 写入字节数组到文件给定位置
	WriteAt([]byte, int64) (int, error)

	// Sync 内存缓冲区的数据持久化到磁盘中
	Sync() error

	// Close 关闭文件
	Close() error

	// Size 获取文件大小
	Size() (int64, error)
}

// NewIOManager 初始化 IOManager
func NewIOManager(fileName string, ioType FileIOType) (IOManager, error) {
	switch ioType {
	case StandardFIO:
		return NewFileIOManager(fileName)
	case MemoryMap:
		return NewMMapIOManager(fileName)
	default:
		panic("unsupported io type")
	}
}
