package data

import (
	"io"
	"path/filepath"

	"walredo/fio"
)

const LogFileNameSuffix = ".log"

// LogFile 日志卷文件, 物理页 0 存放文件头, 之后依次存放日志页
type LogFile struct {
	Name      string
	PageSize  int           // 页大小
	IoManager fio.IOManager // 数据读写接口
}

// LogFileName 日志卷文件的完整路径
func LogFileName(dirPath, name string) string {
	return filepath.Join(dirPath, name+LogFileNameSuffix)
}

// OpenLogFile 打开日志卷文件
func OpenLogFile(dirPath, name string, pageSize int, ioType fio.FileIOType) (*LogFile, error) {
	if err := CheckPageSize(pageSize); err != nil {
		return nil, err
	}
	ioManager, err := fio.NewIOManager(LogFileName(dirPath, name), ioType)
	if err != nil {
		return nil, err
	}
	return &LogFile{
		Name:      name,
		PageSize:  pageSize,
		IoManager: ioManager,
	}, nil
}

// ReadHeaderPage 读取物理页 0
func (lf *LogFile) ReadHeaderPage() ([]byte, error) {
	buf := make([]byte, lf.PageSize)
	if _, err := lf.IoManager.Read(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteHeaderPage 写入物理页 0, 不足一页的部分补零
func (lf *LogFile) WriteHeaderPage(hdr []byte) error {
	buf := make([]byte, lf.PageSize)
	copy(buf, hdr)
	_, err := lf.IoManager.WriteAt(buf, 0)
	return err
}

// NumPages 文件中日志页的数量, 不含头页
func (lf *LogFile) NumPages() (int64, error) {
	size, err := lf.IoManager.Size()
	if err != nil {
		return 0, err
	}
	n := size/int64(lf.PageSize) - 1
	if n < 0 {
		n = 0
	}
	return n, nil
}

// ReadPage 读取物理页, 超出文件末尾时返回 io.EOF
func (lf *LogFile) ReadPage(physical int64) (*LogPage, error) {
	if physical < 1 {
		return nil, io.EOF
	}
	size, err := lf.IoManager.Size()
	if err != nil {
		return nil, err
	}
	offset := physical * int64(lf.PageSize)
	// 只写了一部分的页视为不存在
	if offset+int64(lf.PageSize) > size {
		return nil, io.EOF
	}
	buf := make([]byte, lf.PageSize)
	if _, err := lf.IoManager.Read(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return DecodePage(buf, lf.PageSize)
}

// WritePage 写入物理页
func (lf *LogFile) WritePage(physical int64, page *LogPage) error {
	if page.Size() != lf.PageSize {
		return ErrInvalidPageSize
	}
	_, err := lf.IoManager.WriteAt(EncodePage(page), physical*int64(lf.PageSize))
	return err
}

func (lf *LogFile) Sync() error {
	return lf.IoManager.Sync()
}

func (lf *LogFile) Close() error {
	return lf.IoManager.Close()
}

// SetIOManager 切换 IO 类型
func (lf *LogFile) SetIOManager(dirPath string, ioType fio.FileIOType) error {
	if err := lf.IoManager.Close(); err != nil {
		return err
	}
	ioManager, err := fio.NewIOManager(LogFileName(dirPath, lf.Name), ioType)
	if err != nil {
		return err
	}
	lf.IoManager = ioManager
	return nil
}
