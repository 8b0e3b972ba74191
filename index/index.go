package index

import (
	"bytes"

	"github.com/google/btree"
)

// Indexer 抽象页存储接口, 以页地址编码后的 key 存放重做后的页镜像
// 后续接入其他数据结构, 直接实现这个接口即可
type Indexer interface {
	// Put 存入 key 对应的页镜像, 返回旧的页镜像
	Put(key []byte, page []byte) []byte

	// Get 根据 key 取出对应的页镜像
	Get(key []byte) []byte

	// Delete 根据 key 删除对应的页镜像
	Delete(key []byte) ([]byte, bool)

	// Size 页的数量
	Size() int

	// Iterator 索引迭代器
	Iterator(reverse bool) Iterator

	// Close 关闭索引
	Close() error
}

type IndexType = int8

const (
	// Btree 索引
	Btree IndexType = iota + 1

	// ART Adaptive Radix Tree 自适应基数树索引
	ART

	// BPTree B+ 树索引, 页镜像持久化到磁盘
	BPTree
)

// NewIndexer 根据类型初始化索引
func NewIndexer(typ IndexType, dirPath string, sync bool) (Indexer, error) {
	switch typ {
	case Btree:
		return NewBTree(), nil
	case ART:
		return NewART(), nil
	case BPTree:
		return NewBPlusTree(dirPath, sync)
	default:
		return nil, ErrUnsupportedIndexType
	}
}

type Item struct {
	key  []byte
	page []byte
}

// Less 自定义 btree 中 key 的比较方法(排序规则)
func (ai *Item) Less(bi btree.Item) bool {
	return bytes.Compare(ai.key, bi.(*Item).key) == -1
}

// Iterator 通用索引迭代器
type Iterator interface {
	// Rewind 重新回到迭代器的起点, 即第一个数据
	Rewind()

	// Seek 根据传入的 key 查找到第一个大于(或小于)等于的目标 key, 从这个 key 开始遍历
	Seek(key []byte)

	// Next 跳转到下一个 key
	Next()

	// Valid 是否有效, 即是否已经遍历完了所有的 key, 用于退出遍历
	Valid() bool

	// Key 当前遍历位置的 key
	Key() []byte

	// Value 当前遍历位置的页镜像
	Value() []byte

	// Close 关闭迭代器, 释放相应资源
	Close()
}
