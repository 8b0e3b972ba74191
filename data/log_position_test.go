package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogPosition_Compare(t *testing.T) {
	a := LogPosition{PageID: 1, Offset: 200}
	b := LogPosition{PageID: 2, Offset: 0}
	c := LogPosition{PageID: 2, Offset: 8}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, c.Compare(b))
	assert.Equal(t, 0, b.Compare(LogPosition{PageID: 2}))
	assert.True(t, a.Less(b))
	assert.False(t, c.Less(b))
	assert.True(t, NullPosition.Less(LogPosition{}))
	assert.True(t, b.Equal(LogPosition{PageID: 2}))
	assert.Equal(t, "2|8", c.String())
}

func TestLogPosition_Pack(t *testing.T) {
	positions := []LogPosition{
		{PageID: 0, Offset: 0},
		{PageID: 1, Offset: 4080},
		{PageID: 1 << 40, Offset: 32000},
		NullPosition,
	}
	for _, pos := range positions {
		assert.Equal(t, pos, UnpackPosition(pos.Pack()))
	}
	assert.Equal(t, ^uint64(0), NullPosition.Pack())
	assert.True(t, NullPosition.IsNull())

	// 打包后的顺序与位置顺序一致
	assert.Less(t, positions[0].Pack(), positions[1].Pack())
	assert.Less(t, positions[1].Pack(), positions[2].Pack())
}
