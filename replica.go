package walredo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"walredo/data"
	"walredo/fio"
	"walredo/index"
	"walredo/pagebuf"
	"walredo/recovery"
	"walredo/utils"
)

const (
	fileLockName  = "flock"
	externDirName = "extern"
)

var ErrLogFileNotFound = errors.New("log volume file not found in replica dir")

// Replica 副本实例, 从日志卷文件中持续重做页到本地页存储
type Replica struct {
	options    Options
	mu         *sync.RWMutex
	fileLock   *flock.Flock        // 文件锁
	logBuf     *pagebuf.FileBuffer // 日志页来源
	state      *AppendState        // 持久位置和可见性 id
	index      index.Indexer       // 重做后的页存储
	registry   *recovery.Registry
	replicator *Replicator
	isMMap     bool // 日志是否仍在使用 MMap 读取
	pollStop   chan struct{}
	pollDone   chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

// Stat 副本统计信息
type Stat struct {
	ReplicatorStat
	PageNum    uint   // 页存储中页的数量
	LogPageNum int64  // 日志卷中日志页的数量
	DiskSize   int64  // 占用磁盘空间的大小
	DiskFree   uint64 // 所在文件系统的可用空间
}

// Open 打开副本实例, 返回时后台重做已经开始
func Open(options Options) (*Replica, error) {
	// 对用户传入的配置项进行校验
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	if _, err := os.Stat(data.LogFileName(options.DirPath, options.LogName)); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrLogFileNotFound, options.LogName)
	}

	// 判断是否正在使用
	fileLock := flock.New(filepath.Join(options.DirPath, fileLockName))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrDatabaseIsUsing
	}

	rp := &Replica{
		options:  options,
		mu:       new(sync.RWMutex),
		fileLock: fileLock,
		registry: recovery.NewRegistry(),
		isMMap:   options.MMapAtStartup,
	}
	if err := rp.open(); err != nil {
		rp.release()
		return nil, err
	}
	return rp, nil
}

func (rp *Replica) open() error {
	ioType := fio.StandardFIO
	if rp.options.MMapAtStartup {
		ioType = fio.MemoryMap
	}
	logBuf, err := pagebuf.OpenFileBuffer(rp.options.DirPath, rp.options.LogName, rp.options.PageSize, ioType)
	if err != nil {
		return err
	}
	rp.logBuf = logBuf

	// 读取日志头, 取出持久位置和可见性 id 计数器
	hdr, err := logBuf.Header()
	if err != nil {
		return err
	}
	rp.state = NewAppendStateFromHeader(hdr)

	// 打开页存储并注册内置的重做函数
	idx, err := index.NewIndexer(rp.options.IndexType, rp.options.DirPath, rp.options.SyncWrites)
	if err != nil {
		return err
	}
	rp.index = idx
	extern := &recovery.DirSink{DirPath: filepath.Join(rp.options.DirPath, externDirName)}
	if err := recovery.RegisterPageHandlers(rp.registry, idx, rp.options.PageSize, extern); err != nil {
		return err
	}

	start := rp.startPosition(hdr)
	replicator, err := New(start, logBuf, rp.state, rp.registry, rp.options)
	if err != nil {
		return err
	}
	rp.replicator = replicator
	log.Printf("[INFO] walredo: replica %s replaying from %s, durable %s", rp.options.LogName, start, hdr.AppendPos)

	// MMap 只用于启动时的追赶, 之后追加的页需要标准文件 IO 才能读到
	if rp.options.MMapAtStartup {
		if err := replicator.WaitForCatchUpContext(context.Background()); err != nil {
			return err
		}
		if err := rp.resetIoType(); err != nil {
			return err
		}
	}

	if rp.options.HeaderPollInterval > 0 {
		rp.pollStop = make(chan struct{})
		rp.pollDone = make(chan struct{})
		go rp.pollHeader()
	}
	return nil
}

// startPosition 配置中的开始位置优先, 然后是检查点位置, 最后是第一个日志页
func (rp *Replica) startPosition(hdr *data.LogHeader) data.LogPosition {
	if !rp.options.StartPosition.IsNull() {
		return rp.options.StartPosition
	}
	if !hdr.CheckpointPos.IsNull() {
		return hdr.CheckpointPos
	}
	return data.LogPosition{PageID: hdr.FirstPageID, Offset: 0}
}

func (rp *Replica) resetIoType() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if !rp.isMMap {
		return nil
	}
	if err := rp.logBuf.SetIOType(fio.StandardFIO); err != nil {
		return err
	}
	rp.isMMap = false
	return nil
}

func (rp *Replica) pollHeader() {
	defer close(rp.pollDone)

	ticker := time.NewTicker(rp.options.HeaderPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rp.pollStop:
			return
		case <-ticker.C:
			if _, err := rp.RefreshHeader(); err != nil {
				log.Printf("[WARN] walredo: refresh log header: %v", err)
			}
		}
	}
}

// RefreshHeader 重新读取日志头并发布其中的追加位置
func (rp *Replica) RefreshHeader() (data.LogPosition, error) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	hdr, err := rp.logBuf.Header()
	if err != nil {
		return data.NullPosition, err
	}
	rp.state.PublishDurablePosition(hdr.AppendPos)
	return rp.state.DurablePosition(), nil
}

// ReadPage 读取重做后的页内容和页 LSA
func (rp *Replica) ReadPage(addr data.PageAddr) ([]byte, data.LogPosition, error) {
	image := rp.index.Get(addr.Key())
	if image == nil {
		return nil, data.NullPosition, ErrPageNotFound
	}
	body := recovery.PageBody(image)
	page := make([]byte, len(body))
	copy(page, body)
	return page, recovery.PageLSA(image), nil
}

// WaitForCatchUp 阻塞直到重做追上当前发布的持久位置
func (rp *Replica) WaitForCatchUp() {
	rp.replicator.WaitForCatchUp()
}

// WaitForCatchUpContext 可以取消的 WaitForCatchUp
func (rp *Replica) WaitForCatchUpContext(ctx context.Context) error {
	return rp.replicator.WaitForCatchUpContext(ctx)
}

// Position 当前重做位置
func (rp *Replica) Position() data.LogPosition {
	return rp.replicator.Position()
}

// DurablePosition 最新发布的持久位置
func (rp *Replica) DurablePosition() data.LogPosition {
	return rp.state.DurablePosition()
}

// Stat 返回副本的相关统计信息
func (rp *Replica) Stat() *Stat {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	logPages, err := rp.logBuf.NumPages()
	if err != nil {
		panic(fmt.Sprintf("failed to get log page count: %v", err))
	}
	dirSize, err := utils.DirSize(rp.options.DirPath)
	if err != nil {
		panic(fmt.Sprintf("failed to get dir size: %v", err))
	}
	diskFree, err := utils.AvailableDiskSize(rp.options.DirPath)
	if err != nil {
		panic(fmt.Sprintf("failed to get available disk size: %v", err))
	}

	return &Stat{
		ReplicatorStat: *rp.replicator.Stat(),
		PageNum:        uint(rp.index.Size()),
		LogPageNum:     logPages,
		DiskSize:       dirSize,
		DiskFree:       diskFree,
	}
}

// Close 停止重做并关闭副本
func (rp *Replica) Close() error {
	rp.closeOnce.Do(func() {
		if rp.pollStop != nil {
			close(rp.pollStop)
			<-rp.pollDone
		}
		rp.closeErr = rp.release()
	})
	return rp.closeErr
}

// release 按打开的相反顺序释放资源
func (rp *Replica) release() error {
	defer func() {
		if err := rp.fileLock.Unlock(); err != nil {
			panic(fmt.Sprintf("failed to unlock the directory, %v", err))
		}
	}()

	if rp.replicator != nil {
		rp.replicator.Close()
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	var errs []error
	if rp.index != nil {
		errs = append(errs, rp.index.Close())
	}
	if rp.logBuf != nil {
		errs = append(errs, rp.logBuf.Close())
	}
	return errors.Join(errs...)
}
