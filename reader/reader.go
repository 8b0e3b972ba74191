package reader

import (
	"errors"
	"fmt"

	"walredo/data"
)

var (
	ErrPageNotFound     = errors.New("log page not found")
	ErrPageIDMismatch   = errors.New("fetched page has an unexpected logical page id")
	ErrDoesNotFitInPage = errors.New("requested size does not fit in a log page")
)

// PageFetcher 提供日志页的外部组件, 页不存在时返回 ErrPageNotFound
type PageFetcher interface {
	FetchPage(pageID int64) (*data.LogPage, error)
}

// FetchMode 读取页的方式
type FetchMode int8

const (
	// FetchNormal 已缓存的页覆盖了目标位置时直接复用
	FetchNormal FetchMode = iota

	// FetchForce 总是重新读取, 避免使用过期的页
	FetchForce
)

// Reader 在日志页上顺序读取的游标
// 页是延迟加载的, 只有真正读取数据时才会去取页
// 不是并发安全的, 由唯一的重做协程独占
type Reader struct {
	fetcher  PageFetcher
	areaSize int
	page     *data.LogPage // 当前缓存的页
	pos      data.LogPosition
}

// New 新建游标, pageSize 必须与日志页大小一致
func New(fetcher PageFetcher, pageSize int) *Reader {
	return &Reader{
		fetcher:  fetcher,
		areaSize: data.AreaSize(pageSize),
		pos:      data.NullPosition,
	}
}

// Position 当前游标位置
func (r *Reader) Position() data.LogPosition {
	return r.pos
}

// SetPositionAndFetch 定位到 pos 并加载其所在的页
func (r *Reader) SetPositionAndFetch(pos data.LogPosition, mode FetchMode) error {
	if pos.IsNull() || int(pos.Offset) >= r.areaSize || pos.Offset < 0 {
		return fmt.Errorf("invalid log position %s", pos)
	}
	r.pos = pos
	if mode == FetchForce || r.page == nil || r.page.PageID != pos.PageID {
		return r.fetch(pos.PageID)
	}
	return nil
}

// AdvanceWhenDoesNotFit 剩余空间放不下 n 个字节时, 移动到下一页开始
func (r *Reader) AdvanceWhenDoesNotFit(n int) error {
	if n > r.areaSize {
		return ErrDoesNotFitInPage
	}
	r.normalize()
	if int(r.pos.Offset)+n > r.areaSize {
		r.pos = data.LogPosition{PageID: r.pos.PageID + 1}
	}
	return nil
}

// ReinterpretNext 拷贝接下来的 n 个字节, 然后按对齐规则前进
func (r *Reader) ReinterpretNext(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.ReadBytes(buf); err != nil {
		return nil, err
	}
	r.Align()
	return buf, nil
}

// ReadBytes 读满 dst, 必要时跨越页边界
func (r *Reader) ReadBytes(dst []byte) error {
	for len(dst) > 0 {
		if err := r.ensurePage(); err != nil {
			return err
		}
		n := copy(dst, r.page.Area[r.pos.Offset:])
		dst = dst[n:]
		r.pos.Offset += int16(n)
	}
	return nil
}

// SkipBytes 跳过 n 个字节, 跨越的页不会被读取
func (r *Reader) SkipBytes(n int) {
	for n > 0 {
		r.normalize()
		step := r.areaSize - int(r.pos.Offset)
		if step > n {
			step = n
		}
		r.pos.Offset += int16(step)
		n -= step
	}
}

// Align 对齐当前偏移, 到达页尾时移动到下一页开始
func (r *Reader) Align() {
	r.pos.Offset = int16(data.AlignUp(int(r.pos.Offset)))
	r.normalize()
}

func (r *Reader) normalize() {
	if int(r.pos.Offset) >= r.areaSize {
		r.pos = data.LogPosition{PageID: r.pos.PageID + 1}
	}
}

// ensurePage 保证当前位置所在的页已经加载
func (r *Reader) ensurePage() error {
	r.normalize()
	if r.page != nil && r.page.PageID == r.pos.PageID {
		return nil
	}
	return r.fetch(r.pos.PageID)
}

func (r *Reader) fetch(pageID int64) error {
	page, err := r.fetcher.FetchPage(pageID)
	if err != nil {
		r.page = nil
		if errors.Is(err, ErrPageNotFound) {
			return fmt.Errorf("%w: page %d", data.ErrUnexpectedEndOfLog, pageID)
		}
		return fmt.Errorf("fetch log page %d: %w", pageID, err)
	}
	if err := page.VerifyChecksum(); err != nil {
		r.page = nil
		return fmt.Errorf("%w: page %d", err, pageID)
	}
	if page.PageID != pageID {
		r.page = nil
		return fmt.Errorf("%w: want %d, got %d", ErrPageIDMismatch, pageID, page.PageID)
	}
	if len(page.Area) != r.areaSize {
		r.page = nil
		return fmt.Errorf("%w: page %d", data.ErrInvalidPageSize, pageID)
	}
	r.page = page
	return nil
}
