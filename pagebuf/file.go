package pagebuf

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"walredo/data"
	"walredo/fio"
	"walredo/reader"
)

var ErrNotActiveLog = errors.New("log file is an archive, it has no log header")

// FileBuffer 从日志卷文件中读取日志页, 文件可以是活跃日志或归档日志
type FileBuffer struct {
	dirPath     string
	file        *data.LogFile
	mu          *sync.RWMutex
	firstPageID int64
	archive     *data.LogArchiveHeader // 活跃日志时为 nil
}

// OpenFileBuffer 打开日志卷文件并读取文件头
func OpenFileBuffer(dirPath, name string, pageSize int, ioType fio.FileIOType) (*FileBuffer, error) {
	file, err := data.OpenLogFile(dirPath, name, pageSize, ioType)
	if err != nil {
		return nil, err
	}
	fb := &FileBuffer{
		dirPath: dirPath,
		file:    file,
		mu:      new(sync.RWMutex),
	}

	buf, err := file.ReadHeaderPage()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read log header page: %w", err)
	}
	if data.IsArchiveHeader(buf) {
		arv, err := data.DecodeLogArchiveHeader(buf)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		fb.archive = arv
		fb.firstPageID = arv.FirstPageID
		return fb, nil
	}

	hdr, err := data.DecodeLogHeader(buf)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if int(hdr.LogPageSize) != pageSize {
		_ = file.Close()
		return nil, fmt.Errorf("%w: header says %d, configured %d", data.ErrInvalidPageSize, hdr.LogPageSize, pageSize)
	}
	fb.firstPageID = hdr.FirstPageID
	return fb, nil
}

// Header 重新读取活跃日志的文件头
func (fb *FileBuffer) Header() (*data.LogHeader, error) {
	if fb.archive != nil {
		return nil, ErrNotActiveLog
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	buf, err := fb.file.ReadHeaderPage()
	if err != nil {
		return nil, err
	}
	hdr, err := data.DecodeLogHeader(buf)
	if err != nil {
		return nil, err
	}
	fb.firstPageID = hdr.FirstPageID
	return hdr, nil
}

// ArchiveHeader 归档日志的文件头, 活跃日志时返回 nil
func (fb *FileBuffer) ArchiveHeader() *data.LogArchiveHeader {
	return fb.archive
}

// FetchPage 按逻辑页号读取页
func (fb *FileBuffer) FetchPage(pageID int64) (*data.LogPage, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	physical := pageID - fb.firstPageID + 1
	if physical < 1 {
		return nil, reader.ErrPageNotFound
	}
	if fb.archive != nil && physical > int64(fb.archive.NPages) {
		return nil, reader.ErrPageNotFound
	}
	page, err := fb.file.ReadPage(physical)
	if err != nil {
		if err == io.EOF {
			return nil, reader.ErrPageNotFound
		}
		return nil, err
	}
	return page, nil
}

// NumPages 文件中日志页的数量
func (fb *FileBuffer) NumPages() (int64, error) {
	return fb.file.NumPages()
}

// SetIOType 切换文件的 IO 类型
func (fb *FileBuffer) SetIOType(ioType fio.FileIOType) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.file.SetIOManager(fb.dirPath, ioType)
}

func (fb *FileBuffer) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.file.Close()
}

// WriteLogFile 写入一个完整的活跃日志文件, 供工具和测试使用
// 页按 hdr.FirstPageID 换算成物理位置
func WriteLogFile(dirPath, name string, hdr *data.LogHeader, pages []*data.LogPage) error {
	file, err := data.OpenLogFile(dirPath, name, int(hdr.LogPageSize), fio.StandardFIO)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, page := range pages {
		if err := file.WritePage(page.PageID-hdr.FirstPageID+1, page); err != nil {
			return err
		}
	}
	if err := file.WriteHeaderPage(data.EncodeLogHeader(hdr)); err != nil {
		return err
	}
	return file.Sync()
}

// WriteArchiveFile 写入一个归档日志文件
func WriteArchiveFile(dirPath, name string, pageSize int, hdr *data.LogArchiveHeader, pages []*data.LogPage) error {
	file, err := data.OpenLogFile(dirPath, name, pageSize, fio.StandardFIO)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, page := range pages {
		if err := file.WritePage(page.PageID-hdr.FirstPageID+1, page); err != nil {
			return err
		}
	}
	if err := file.WriteHeaderPage(data.EncodeLogArchiveHeader(hdr)); err != nil {
		return err
	}
	return file.Sync()
}
