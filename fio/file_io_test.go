package fio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func destroyFile(name string) {
	if err := os.RemoveAll(name); err != nil {
		panic(err)
	}
}

func TestFileIO_WriteRead(t *testing.T) {
	path := filepath.Join(os.TempDir(), "walredo-fio-0001.log")
	fio, err := NewFileIOManager(path)
	defer destroyFile(path)
	assert.Nil(t, err)
	assert.NotNil(t, fio)

	n, err := fio.Write([]byte("key-a"))
	assert.Equal(t, 5, n)
	assert.Nil(t, err)

	// Write 总是追加到文件末尾
	n, err = fio.Write([]byte("key-b"))
	assert.Equal(t, 5, n)
	assert.Nil(t, err)

	n, err = fio.WriteAt([]byte("KEY"), 5)
	assert.Equal(t, 3, n)
	assert.Nil(t, err)

	b := make([]byte, 10)
	n, err = fio.Read(b, 0)
	assert.Equal(t, 10, n)
	assert.Nil(t, err)
	assert.Equal(t, []byte("key-aKEY-b"), b)

	size, err := fio.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(10), size)

	assert.Nil(t, fio.Sync())
	assert.Nil(t, fio.Close())
}

func TestMMap_Read(t *testing.T) {
	path := filepath.Join(os.TempDir(), "walredo-mmap-0001.log")
	defer destroyFile(path)

	// 空文件也可以映射
	mmapIO, err := NewIOManager(path, MemoryMap)
	assert.Nil(t, err)
	size, err := mmapIO.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(0), size)
	assert.Nil(t, mmapIO.Close())

	fio, err := NewIOManager(path, StandardFIO)
	assert.Nil(t, err)
	_, err = fio.Write([]byte("aa"))
	assert.Nil(t, err)
	_, err = fio.Write([]byte("bb"))
	assert.Nil(t, err)
	assert.Nil(t, fio.Close())

	mmapIO, err = NewIOManager(path, MemoryMap)
	assert.Nil(t, err)
	size, err = mmapIO.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(4), size)

	b := make([]byte, 2)
	n, err := mmapIO.Read(b, 2)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("bb"), b)

	_, err = mmapIO.Write([]byte("cc"))
	assert.Equal(t, ErrReadOnly, err)
	_, err = mmapIO.WriteAt([]byte("cc"), 0)
	assert.Equal(t, ErrReadOnly, err)
	assert.Equal(t, ErrReadOnly, mmapIO.Sync())
	assert.Nil(t, mmapIO.Close())
}
