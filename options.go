package walredo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"walredo/data"
	"walredo/index"
)

type Options struct {
	// 副本数据目录, 存放日志卷文件和页存储
	DirPath string

	// 日志卷名称, 文件名为 LogName + ".log"
	LogName string

	// 日志页大小, 必须与写入端一致
	PageSize int

	// 页存储的索引类型
	IndexType IndexType

	// 是否每次写入页存储都持久化, 只对 B+ 树索引有效
	SyncWrites bool

	// 启动时是否使用 MMap 读取日志, 追上之后切换为标准文件 IO
	MMapAtStartup bool

	// 重做协程空闲时的轮询间隔
	ReplayInterval time.Duration

	// 重新读取日志头的间隔, 为 0 时不轮询, 由调用方 RefreshHeader
	HeaderPollInterval time.Duration

	// 解压缩临时缓冲区的初始大小
	UnzipBufferSize int

	// 重做开始位置, 为空时使用日志头中的检查点位置
	StartPosition data.LogPosition

	// 指标注册器, 为 nil 时不注册指标
	Registerer prometheus.Registerer
}

// PageIteratorOptions 页迭代器配置项
type PageIteratorOptions struct {
	// 只遍历该卷的页, 为负数时遍历所有卷
	VolID int16

	// 是否反向遍历
	Reverse bool
}

type IndexType = index.IndexType

const (
	// Btree 索引
	Btree IndexType = index.Btree

	// ART Adaptive Radix Tree 自适应基数树索引
	ART IndexType = index.ART

	// BPlusTree B+ 树索引, 重做后的页持久化到磁盘
	BPlusTree IndexType = index.BPTree
)

var DefaultOptions = Options{
	DirPath:            "/tmp/walredo",
	LogName:            "walredo",
	PageSize:           data.DefaultPageSize,
	IndexType:          Btree,
	SyncWrites:         false,
	MMapAtStartup:      true,
	ReplayInterval:     time.Millisecond,
	HeaderPollInterval: 0,
	UnzipBufferSize:    data.DefaultPageSize,
	StartPosition:      data.NullPosition,
}

var DefaultPageIteratorOptions = PageIteratorOptions{
	VolID:   -1,
	Reverse: false,
}

func checkReplayOptions(options Options) error {
	if err := data.CheckPageSize(options.PageSize); err != nil {
		return err
	}
	if options.ReplayInterval <= 0 {
		return ErrInvalidReplayInterval
	}
	if options.UnzipBufferSize < 0 {
		return ErrInvalidUnzipBufferSize
	}
	return nil
}

func checkOptions(options Options) error {
	if options.DirPath == "" {
		return ErrDirPathIsEmpty
	}
	if options.LogName == "" {
		return ErrLogNameIsEmpty
	}
	if options.HeaderPollInterval < 0 {
		return ErrInvalidPollInterval
	}
	return checkReplayOptions(options)
}
