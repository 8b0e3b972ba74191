package fio

import (
	"os"

	"golang.org/x/exp/mmap"
)

// MMap 内存文件映射, 只用于读取
// 映射在打开时确定大小, 之后追加的内容不可见
type MMap struct {
	readerAt *mmap.ReaderAt
}

// NewMMapIOManager 初始化 MMap IO
func NewMMapIOManager(fileName string) (*MMap, error) {
	// 文件不存在时先创建
	fd, err := os.OpenFile(fileName, os.O_CREATE, DataFilePerm)
	if err != nil {
		return nil, err
	}
	if err := fd.Close(); err != nil {
		return nil, err
	}
	readerAt, err := mmap.Open(fileName)
	if err != nil {
		return nil, err
	}
	return &MMap{readerAt: readerAt}, nil
}

func (mmap *MMap) Read(b []byte, offset int64) (int, error) {
	return mmap.readerAt.ReadAt(b, offset)
}

func (mmap *MMap) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}

func (mmap *MMap) WriteAt([]byte, int64) (int, error) {
	return 0, ErrReadOnly
}

func (mmap *MMap) Sync() error {
	return ErrReadOnly
}

func (mmap *MMap) Close() error {
	return mmap.readerAt.Close()
}

func (mmap *MMap) Size() (int64, error) {
	return int64(mmap.readerAt.Len()), nil
}
