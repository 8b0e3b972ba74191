package pagebuf

import (
	"sync"

	"github.com/google/btree"

	"walredo/data"
	"walredo/reader"
)

// MemoryBuffer 内存中的日志页缓冲区, 按页号有序存放
// 写入方整页替换, 已经取走的页不会被修改
type MemoryBuffer struct {
	pageSize int
	tree     *btree.BTree
	lock     *sync.RWMutex
}

type pageItem struct {
	page *data.LogPage
}

// Less 按逻辑页号排序
func (pi *pageItem) Less(bi btree.Item) bool {
	return pi.page.PageID < bi.(*pageItem).page.PageID
}

// NewMemoryBuffer 新建内存页缓冲区
func NewMemoryBuffer(pageSize int) *MemoryBuffer {
	return &MemoryBuffer{
		pageSize: pageSize,
		tree:     btree.New(32),
		lock:     new(sync.RWMutex),
	}
}

// PutPages 存入或替换日志页
func (mb *MemoryBuffer) PutPages(pages ...*data.LogPage) error {
	for _, page := range pages {
		if page.Size() != mb.pageSize {
			return data.ErrInvalidPageSize
		}
	}
	mb.lock.Lock()
	defer mb.lock.Unlock()
	for _, page := range pages {
		mb.tree.ReplaceOrInsert(&pageItem{page: page.Clone()})
	}
	return nil
}

// FetchPage 取出逻辑页
func (mb *MemoryBuffer) FetchPage(pageID int64) (*data.LogPage, error) {
	mb.lock.RLock()
	defer mb.lock.RUnlock()
	it := mb.tree.Get(&pageItem{page: &data.LogPage{PageID: pageID}})
	if it == nil {
		return nil, reader.ErrPageNotFound
	}
	return it.(*pageItem).page, nil
}

// TruncateBefore 删除页号小于 pageID 的页, 返回删除的数量
func (mb *MemoryBuffer) TruncateBefore(pageID int64) int {
	mb.lock.Lock()
	defer mb.lock.Unlock()

	var stale []btree.Item
	mb.tree.AscendLessThan(&pageItem{page: &data.LogPage{PageID: pageID}}, func(it btree.Item) bool {
		stale = append(stale, it)
		return true
	})
	for _, it := range stale {
		mb.tree.Delete(it)
	}
	return len(stale)
}

// Len 缓冲区中页的数量
func (mb *MemoryBuffer) Len() int {
	mb.lock.RLock()
	defer mb.lock.RUnlock()
	return mb.tree.Len()
}

// Sink 返回一个接收端, 存入收到的页后通过 publish 发布新的持久位置
func (mb *MemoryBuffer) Sink(publish func(data.LogPosition)) Sink {
	return func(msg []byte) error {
		end, pages, err := DecodePriorMessage(msg, mb.pageSize)
		if err != nil {
			return err
		}
		if err := mb.PutPages(pages...); err != nil {
			return err
		}
		if publish != nil {
			publish(end)
		}
		return nil
	}
}
