package index

import (
	"bytes"
	"fmt"
	"path/filepath"

	"go.etcd.io/bbolt"
)

const bptreeIndexFileName = "bptree-pages"

var indexBucketName = []byte("walredo-pages")

// BPlusTree B+ 树索引, 页镜像直接持久化
// 主要封装了 go.etcd.io/bbolt
type BPlusTree struct {
	tree *bbolt.DB
}

// NewBPlusTree 初始化 B+ 树索引
func NewBPlusTree(dirPath string, syncWrites bool) (*BPlusTree, error) {
	opts := *bbolt.DefaultOptions
	opts.NoSync = !syncWrites
	bptree, err := bbolt.Open(filepath.Join(dirPath, bptreeIndexFileName), 0644, &opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenBPlusTree, err)
	}

	// 创建对应的 bucket
	if err := bptree.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucketName)
		return err
	}); err != nil {
		_ = bptree.Close()
		return nil, fmt.Errorf("create bucket in bptree: %w", err)
	}

	return &BPlusTree{tree: bptree}, nil
}

func (bpt *BPlusTree) Put(key []byte, page []byte) []byte {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		// bbolt 返回的切片只在事务内有效
		if v := bucket.Get(key); v != nil {
			oldValue = append([]byte(nil), v...)
		}
		return bucket.Put(key, page)
	}); err != nil {
		panic("failed to put value in bptree")
	}
	return oldValue
}

func (bpt *BPlusTree) Get(key []byte) []byte {
	var page []byte
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		if v := bucket.Get(key); v != nil {
			page = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		panic("failed to get value in bptree")
	}
	return page
}

func (bpt *BPlusTree) Delete(key []byte) ([]byte, bool) {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		if v := bucket.Get(key); v != nil {
			oldValue = append([]byte(nil), v...)
			return bucket.Delete(key)
		}
		return nil
	}); err != nil {
		panic("failed to delete value in bptree")
	}
	if oldValue == nil {
		return nil, false
	}
	return oldValue, true
}

func (bpt *BPlusTree) Size() int {
	var size int
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		size = bucket.Stats().KeyN
		return nil
	}); err != nil {
		panic("failed to get size in bptree")
	}
	return size
}

func (bpt *BPlusTree) Iterator(reverse bool) Iterator {
	return newBptreeIterator(bpt.tree, reverse)
}

func (bpt *BPlusTree) Close() error {
	return bpt.tree.Close()
}

type bptreeIterator struct {
	tx        *bbolt.Tx
	cursor    *bbolt.Cursor
	reverse   bool
	currKey   []byte
	currValue []byte
}

func newBptreeIterator(tree *bbolt.DB, reverse bool) *bptreeIterator {
	tx, err := tree.Begin(false)
	if err != nil {
		panic("failed to begin a transaction")
	}
	bpi := &bptreeIterator{
		tx:      tx,
		cursor:  tx.Bucket(indexBucketName).Cursor(),
		reverse: reverse,
	}
	bpi.Rewind()
	return bpi
}

func (bpi *bptreeIterator) Rewind() {
	if bpi.reverse {
		bpi.currKey, bpi.currValue = bpi.cursor.Last()
	} else {
		bpi.currKey, bpi.currValue = bpi.cursor.First()
	}
}

func (bpi *bptreeIterator) Seek(key []byte) {
	bpi.currKey, bpi.currValue = bpi.cursor.Seek(key)
	if !bpi.reverse {
		return
	}
	if bpi.currKey == nil {
		bpi.currKey, bpi.currValue = bpi.cursor.Last()
	} else if !bytes.Equal(bpi.currKey, key) {
		bpi.currKey, bpi.currValue = bpi.cursor.Prev()
	}
}

func (bpi *bptreeIterator) Next() {
	if bpi.reverse {
		bpi.currKey, bpi.currValue = bpi.cursor.Prev()
	} else {
		bpi.currKey, bpi.currValue = bpi.cursor.Next()
	}
}

func (bpi *bptreeIterator) Valid() bool {
	return len(bpi.currKey) != 0
}

func (bpi *bptreeIterator) Key() []byte {
	return bpi.currKey
}

func (bpi *bptreeIterator) Value() []byte {
	return bpi.currValue
}

func (bpi *bptreeIterator) Close() {
	_ = bpi.tx.Rollback()
}
