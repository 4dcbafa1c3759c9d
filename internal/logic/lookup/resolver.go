package lookup

import (
	"context"
	"sort"
	"strings"

	"jito-bundler-sol/internal/cache"
	"jito-bundler-sol/internal/logic/core"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"

	"golang.org/x/sync/singleflight"
)

// TableFetcher 从链上拉取 lookup table 内容，返回 table 地址 -> 地址列表
type TableFetcher interface {
	FetchTables(ctx context.Context, ids []types.Pubkey) (map[types.Pubkey][]types.Pubkey, error)
}

// Resolver 带缓存的 lookup table 解析器。只有缓存未命中的 table 才会访问网络，
// 并发请求同一组 table 时只发起一次拉取。
type Resolver struct {
	cache   *cache.LookupTableCache
	fetcher TableFetcher
	group   singleflight.Group
}

func NewResolver(c *cache.LookupTableCache, fetcher TableFetcher) *Resolver {
	return &Resolver{cache: c, fetcher: fetcher}
}

// Resolve 返回 ids 对应的 lookup table 集合。任一 table 不存在即报错，
// 缺失的 table 会导致编码时无法压缩地址，继续打包没有意义。
func (r *Resolver) Resolve(ctx context.Context, ids []types.Pubkey) (core.LookupTableSet, error) {
	found, missing := r.cache.GetMany(ids)
	result := core.LookupTableSet(found)
	if len(missing) == 0 {
		return result, nil
	}

	key := groupKey(missing)
	// 拉取被多个调用方共享，不跟随任一调用方取消，超时由 fetcher 控制
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		tables, err := r.fetcher.FetchTables(fetchCtx, missing)
		if err != nil {
			return nil, err
		}
		r.cache.InsertMany(tables)
		return tables, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeLookupTable, ctx.Err(), "resolve lookup tables canceled",
			xerrors.WithMetadata("tables", key))
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLookupTable, res.Err, "resolve lookup tables failed",
			xerrors.WithMetadata("tables", key))
	}
	if res.Shared {
		logger.Debugf("[LookupResolver] 复用并发中的拉取结果: %d 个 table", len(missing))
	}

	fetched := res.Val.(map[types.Pubkey][]types.Pubkey)
	for _, id := range missing {
		addrs, ok := fetched[id]
		if !ok {
			return nil, xerrors.New(xerrors.CodeLookupTable, "lookup table not found",
				xerrors.WithMetadata("table", id.String()))
		}
		result[id] = addrs
	}
	logger.Infof("[LookupResolver] 新解析 %d 个 lookup table, 缓存总数: %d", len(missing), r.cache.Len())
	return result, nil
}

func groupKey(ids []types.Pubkey) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	sort.Strings(strs)
	return strings.Join(strs, ",")
}
