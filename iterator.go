package walredo

import (
	"bytes"

	"walredo/data"
	"walredo/index"
	"walredo/recovery"
)

// PageIterator 页存储迭代器, 按卷号和页号有序
type PageIterator struct {
	indexIter index.Iterator // 索引迭代器
	options   PageIteratorOptions
	prefix    []byte
}

func (rp *Replica) NewPageIterator(opts PageIteratorOptions) *PageIterator {
	it := &PageIterator{
		indexIter: rp.index.Iterator(opts.Reverse),
		options:   opts,
	}
	if opts.VolID >= 0 {
		it.prefix = data.PageAddr{VolID: opts.VolID}.Key()[:2]
	}
	return it
}

func (it *PageIterator) Rewind() {
	it.indexIter.Rewind()
	it.skipToNext()
}

func (it *PageIterator) Seek(addr data.PageAddr) {
	it.indexIter.Seek(addr.Key())
	it.skipToNext()
}

func (it *PageIterator) Next() {
	it.indexIter.Next()
	it.skipToNext()
}

func (it *PageIterator) Valid() bool {
	return it.indexIter.Valid()
}

// Addr 当前页的地址
func (it *PageIterator) Addr() data.PageAddr {
	return data.PageAddrFromKey(it.indexIter.Key())
}

// LSA 当前页最后一次重做的位置
func (it *PageIterator) LSA() data.LogPosition {
	return recovery.PageLSA(it.indexIter.Value())
}

// Value 当前页的内容
func (it *PageIterator) Value() []byte {
	body := recovery.PageBody(it.indexIter.Value())
	page := make([]byte, len(body))
	copy(page, body)
	return page
}

func (it *PageIterator) Close() {
	it.indexIter.Close()
}

func (it *PageIterator) skipToNext() {
	prefixLen := len(it.prefix)
	if prefixLen == 0 {
		return
	}

	for ; it.indexIter.Valid(); it.indexIter.Next() {
		key := it.indexIter.Key()
		if prefixLen <= len(key) && bytes.Equal(it.prefix, key[:prefixLen]) {
			break
		}
	}
}
