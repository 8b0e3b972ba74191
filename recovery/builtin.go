package recovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"walredo/data"
)

// 内置重做函数的资源类型下标
const (
	RcvPageInit int32 = iota + 1
	RcvPageWrite
	RcvPageDelete
	RcvPageAppend
	RcvExtern
)

// pageLSASize 页镜像前 8 个字节存放最后一次重做的位置
const pageLSASize = data.LogPositionSize

// PageStore 存放重做后页镜像的存储, index.Indexer 满足这个接口
type PageStore interface {
	Put(key []byte, page []byte) []byte
	Get(key []byte) []byte
	Delete(key []byte) ([]byte, bool)
}

// ExternSink 接收数据库外部副作用
type ExternSink interface {
	ApplyExtern(ctx context.Context, index int32, pos data.LogPosition, payload []byte) error
}

// PageLSA 页镜像中记录的最后重做位置
func PageLSA(image []byte) data.LogPosition {
	if len(image) < pageLSASize {
		return data.NullPosition
	}
	return data.UnpackPosition(binary.LittleEndian.Uint64(image[:pageLSASize]))
}

// PageBody 页镜像去掉页 LSA 之后的内容
func PageBody(image []byte) []byte {
	if len(image) < pageLSASize {
		return nil
	}
	return image[pageLSASize:]
}

func makeImage(lsa data.LogPosition, body []byte) []byte {
	image := make([]byte, pageLSASize+len(body))
	binary.LittleEndian.PutUint64(image[:pageLSASize], lsa.Pack())
	copy(image[pageLSASize:], body)
	return image
}

// pageHandlers 在 PageStore 上实现的页重做函数
// 记录位置不大于页 LSA 时说明已经重做过, 直接跳过
type pageHandlers struct {
	store    PageStore
	pageSize int
}

// applied 判断记录是否已经作用在页上
func applied(image []byte, pos data.LogPosition) bool {
	lsa := PageLSA(image)
	return !lsa.IsNull() && pos.Compare(lsa) <= 0
}

func (ph *pageHandlers) init(_ context.Context, rcv *Rcv) error {
	key := rcv.Addr.Key()
	if applied(ph.store.Get(key), rcv.Position) {
		return nil
	}
	if len(rcv.Data) > ph.pageSize {
		return fmt.Errorf("%w: page %s, %d bytes", ErrWriteOutOfPage, rcv.Addr, len(rcv.Data))
	}
	ph.store.Put(key, makeImage(rcv.Position, rcv.Data))
	return nil
}

func (ph *pageHandlers) write(_ context.Context, rcv *Rcv) error {
	key := rcv.Addr.Key()
	image := ph.store.Get(key)
	if image == nil {
		return fmt.Errorf("%w: %s", ErrPageNotInit, rcv.Addr)
	}
	if applied(image, rcv.Position) {
		return nil
	}
	body := PageBody(image)
	end := int(rcv.Addr.Offset) + len(rcv.Data)
	if rcv.Addr.Offset < 0 || end > ph.pageSize {
		return fmt.Errorf("%w: page %s, %d bytes", ErrWriteOutOfPage, rcv.Addr, len(rcv.Data))
	}
	// 存储中的镜像可能正在被读取, 总是写到新的副本上
	size := len(body)
	if end > size {
		size = end
	}
	written := make([]byte, size)
	copy(written, body)
	copy(written[rcv.Addr.Offset:], rcv.Data)
	ph.store.Put(key, makeImage(rcv.Position, written))
	return nil
}

func (ph *pageHandlers) delete(_ context.Context, rcv *Rcv) error {
	key := rcv.Addr.Key()
	// 之后重新初始化过的页不能被旧的删除记录删掉
	if applied(ph.store.Get(key), rcv.Position) {
		return nil
	}
	ph.store.Delete(key)
	return nil
}

func (ph *pageHandlers) append(_ context.Context, rcv *Rcv) error {
	key := rcv.Addr.Key()
	image := ph.store.Get(key)
	if image == nil {
		return fmt.Errorf("%w: %s", ErrPageNotInit, rcv.Addr)
	}
	if applied(image, rcv.Position) {
		return nil
	}
	body := PageBody(image)
	if len(body)+len(rcv.Data) > ph.pageSize {
		return fmt.Errorf("%w: page %s, %d bytes", ErrWriteOutOfPage, rcv.Addr, len(rcv.Data))
	}
	grown := make([]byte, len(body)+len(rcv.Data))
	copy(grown, body)
	copy(grown[len(body):], rcv.Data)
	ph.store.Put(key, makeImage(rcv.Position, grown))
	return nil
}

// RegisterPageHandlers 注册内置的页重做函数, extern 为 nil 时不注册外部副作用函数
func RegisterPageHandlers(reg *Registry, store PageStore, pageSize int, extern ExternSink) error {
	ph := &pageHandlers{store: store, pageSize: pageSize}
	if err := reg.Register(RcvPageInit, "page_init", ph.init); err != nil {
		return err
	}
	if err := reg.Register(RcvPageWrite, "page_write", ph.write); err != nil {
		return err
	}
	if err := reg.Register(RcvPageDelete, "page_delete", ph.delete); err != nil {
		return err
	}
	if err := reg.Register(RcvPageAppend, "page_append", ph.append); err != nil {
		return err
	}
	if extern == nil {
		return nil
	}
	return reg.Register(RcvExtern, "db_extern", func(ctx context.Context, rcv *Rcv) error {
		return extern.ApplyExtern(ctx, rcv.RcvIndex, rcv.Position, rcv.Data)
	})
}

// DirSink 把外部副作用写成目录中的文件, 文件名由记录位置决定, 重复写入会覆盖
type DirSink struct {
	DirPath string
}

const externFileSuffix = ".extern"

// ExternFileName 记录位置对应的文件名
func ExternFileName(pos data.LogPosition) string {
	return fmt.Sprintf("%020d-%05d%s", pos.PageID, pos.Offset, externFileSuffix)
}

func (ds *DirSink) ApplyExtern(_ context.Context, _ int32, pos data.LogPosition, payload []byte) error {
	if err := os.MkdirAll(ds.DirPath, os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ds.DirPath, ExternFileName(pos)), payload, 0644)
}
