package cache

import (
	"sync"

	"jito-bundler-sol/internal/pkg/types"
)

// LookupTableCache 缓存 lookup table 的解析结果，进程内所有打包任务共享，读写并发安全。
// 链上 lookup table 只追加不修改，因此插入是幂等的：同一个 table 重复插入只会保留更长的地址列表。
type LookupTableCache struct {
	mu     sync.RWMutex
	tables map[types.Pubkey][]types.Pubkey
}

func NewLookupTableCache() *LookupTableCache {
	return &LookupTableCache{
		tables: make(map[types.Pubkey][]types.Pubkey),
	}
}

func (c *LookupTableCache) Get(id types.Pubkey) ([]types.Pubkey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addrs, ok := c.tables[id]
	return addrs, ok
}

// GetMany 返回命中的 table 以及未命中的 id（去重，保持首次出现顺序）
func (c *LookupTableCache) GetMany(ids []types.Pubkey) (map[types.Pubkey][]types.Pubkey, []types.Pubkey) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	found := make(map[types.Pubkey][]types.Pubkey, len(ids))
	var missing []types.Pubkey
	seen := make(map[types.Pubkey]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if addrs, ok := c.tables[id]; ok {
			found[id] = addrs
			continue
		}
		missing = append(missing, id)
	}
	return found, missing
}

// Insert 写入单个 table，返回最终保存的地址列表
func (c *LookupTableCache) Insert(id types.Pubkey, addrs []types.Pubkey) []types.Pubkey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertUnsafe(id, addrs)
}

// InsertMany 批量写入
func (c *LookupTableCache) InsertMany(tables map[types.Pubkey][]types.Pubkey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, addrs := range tables {
		c.insertUnsafe(id, addrs)
	}
}

func (c *LookupTableCache) insertUnsafe(id types.Pubkey, addrs []types.Pubkey) []types.Pubkey {
	if cur, ok := c.tables[id]; ok && len(cur) >= len(addrs) {
		return cur
	}
	// 拷贝一份，调用方后续修改切片不影响缓存
	stored := make([]types.Pubkey, len(addrs))
	copy(stored, addrs)
	c.tables[id] = stored
	return stored
}

// Invalidate 删除指定 table，下一次解析会重新拉取
func (c *LookupTableCache) Invalidate(id types.Pubkey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, id)
}

func (c *LookupTableCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}
