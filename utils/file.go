package utils

import (
	"io/fs"
	"path/filepath"
	"syscall"
)

// DirSize 副本目录占用的字节数, 包括日志卷, 页存储和外部副作用文件
func DirSize(dirPath string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// AvailableDiskSize dirPath 所在文件系统的可用空间, 字节为单位
func AvailableDiskSize(dirPath string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dirPath, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
