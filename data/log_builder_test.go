package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogBuilder_Layout(t *testing.T) {
	b := NewLogBuilder(MinPageSize, LogPosition{PageID: 10, Offset: 0})
	area := AreaSize(MinPageSize)

	p0 := b.AppendRedo(1, PageAddr{PageID: 1}, MVCCIDNull, []byte("abc"))
	assert.Equal(t, LogPosition{PageID: 10, Offset: 0}, p0)
	// 32 记录头 + 16 定长部分 + 3 数据, 对齐到 56
	p1 := b.AppendKind(LogCommit)
	assert.Equal(t, LogPosition{PageID: 10, Offset: 56}, p1)
	p2 := b.AppendRedo(1, PageAddr{PageID: 1}, MVCCIDNull, make([]byte, area))
	assert.Equal(t, LogPosition{PageID: 10, Offset: 88}, p2)

	end := b.EndPosition()
	pages := b.Pages()
	assert.Equal(t, int(end.PageID-9), len(pages))
	for i, page := range pages {
		assert.Equal(t, int64(10+i), page.PageID)
		assert.Nil(t, page.VerifyChecksum())
	}
	assert.Equal(t, int16(0), pages[0].FirstRecordOffset)
	assert.Equal(t, NoRecordOffset, pages[1].FirstRecordOffset)

	// 记录头中的前后链接
	hdr, err := DecodeLogRecordHeader(pages[0].Area[p1.Offset:])
	assert.Nil(t, err)
	assert.Equal(t, p0, hdr.BackPos)
	assert.Equal(t, p2, hdr.ForwPos)
	assert.Equal(t, LogCommit, hdr.Kind)

	hdr, err = DecodeLogRecordHeader(pages[0].Area[p2.Offset:])
	assert.Nil(t, err)
	assert.Equal(t, end, hdr.ForwPos)
}

func TestLogBuilder_HeaderNeverSplits(t *testing.T) {
	b := NewLogBuilder(MinPageSize, LogPosition{PageID: 0, Offset: 0})
	area := AreaSize(MinPageSize)

	// 第一条记录之后只剩 24 个字节, 放不下下一个记录头
	b.AppendRedo(1, PageAddr{}, MVCCIDNull, make([]byte, area-48-24))
	assert.Equal(t, LogPosition{PageID: 1, Offset: 0}, b.EndPosition())

	p := b.AppendKind(LogDummy)
	assert.Equal(t, LogPosition{PageID: 1, Offset: 0}, p)
	page, ok := b.Page(1)
	assert.True(t, ok)
	assert.Equal(t, int16(0), page.FirstRecordOffset)

	_, ok = b.Page(5)
	assert.False(t, ok)
}

func TestLogBuilder_Zip(t *testing.T) {
	b := NewLogBuilder(MinPageSize, LogPosition{})
	b.Zip = true
	redo := make([]byte, 1000)
	p := b.AppendRedo(1, PageAddr{}, MVCCIDNull, redo)

	page, _ := b.Page(0)
	fixed, err := DecodeFixedPart(LogRedoData, page.Area[p.Offset+LogRecordHeaderSize:])
	assert.Nil(t, err)
	length := fixed.(*RedoRecord).Length
	assert.True(t, IsZipped(length))
	assert.Less(t, StoredLength(length), 1000)
	// 压缩后一页就能放下
	assert.Equal(t, int64(0), b.EndPosition().PageID)
}
