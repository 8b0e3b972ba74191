package recovery

import (
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	name string
	fn   RedoFunc
}

// Registry 资源类型下标到重做函数的映射, 启动时注册一次
type Registry struct {
	mu      *sync.RWMutex
	entries map[int32]entry
}

func NewRegistry() *Registry {
	return &Registry{
		mu:      new(sync.RWMutex),
		entries: make(map[int32]entry),
	}
}

// Register 注册重做函数, 同一个下标只能注册一次
func (reg *Registry) Register(index int32, name string, fn RedoFunc) error {
	if fn == nil {
		return ErrNilRedoFunc
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if old, ok := reg.entries[index]; ok {
		return fmt.Errorf("%w: %d is %s", ErrDuplicateRcvIndex, index, old.name)
	}
	reg.entries[index] = entry{name: name, fn: fn}
	return nil
}

// Lookup 查找下标对应的重做函数
func (reg *Registry) Lookup(index int32) (RedoFunc, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	e, ok := reg.entries[index]
	return e.fn, ok
}

// Name 下标对应的名称, 未注册时返回 "unknown"
func (reg *Registry) Name(index int32) string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if e, ok := reg.entries[index]; ok {
		return e.name
	}
	return "unknown"
}

// Indexes 已注册的下标, 升序
func (reg *Registry) Indexes() []int32 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	indexes := make([]int32, 0, len(reg.entries))
	for index := range reg.entries {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes
}
