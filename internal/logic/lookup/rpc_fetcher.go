package lookup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	alt "github.com/blocto/solana-go-sdk/program/address_lookup_table"
)

// accountsGetter 对应 SDK client 的 GetMultipleAccounts，便于测试替换
type accountsGetter interface {
	GetMultipleAccounts(ctx context.Context, addrs []string) ([]client.AccountInfo, error)
}

// RpcTableFetcher 通过 getMultipleAccounts 拉取 lookup table 并解析地址列表
type RpcTableFetcher struct {
	client   accountsGetter
	timeout  time.Duration
	batchMax int
}

func NewRpcTableFetcher(c *client.Client, timeout time.Duration, batchMax int) *RpcTableFetcher {
	return newRpcTableFetcher(c, timeout, batchMax)
}

func newRpcTableFetcher(c accountsGetter, timeout time.Duration, batchMax int) *RpcTableFetcher {
	if batchMax <= 0 {
		batchMax = 100
	}
	return &RpcTableFetcher{client: c, timeout: timeout, batchMax: batchMax}
}

func (f *RpcTableFetcher) FetchTables(ctx context.Context, ids []types.Pubkey) (map[types.Pubkey][]types.Pubkey, error) {
	result := make(map[types.Pubkey][]types.Pubkey, len(ids))
	for start := 0; start < len(ids); start += f.batchMax {
		end := min(start+f.batchMax, len(ids))
		if err := f.fetchChunk(ctx, ids[start:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (f *RpcTableFetcher) fetchChunk(ctx context.Context, ids []types.Pubkey, out map[types.Pubkey][]types.Pubkey) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	accounts := make([]string, len(ids))
	for i, id := range ids {
		accounts[i] = id.String()
	}

	start := time.Now()
	infos, err := f.client.GetMultipleAccounts(ctx, accounts)
	if err != nil {
		return fmt.Errorf("GetMultipleAccounts failed: %w", err)
	}
	logger.Debugf("[RpcTableFetcher] GetMultipleAccounts 成功, 账户数: %d, 耗时: %v", len(accounts), time.Since(start))

	if len(infos) != len(ids) {
		return fmt.Errorf("返回账户数与请求不一致: got=%d want=%d", len(infos), len(ids))
	}

	for i, info := range infos {
		if len(info.Data) == 0 {
			logger.Warnf("[RpcTableFetcher] lookup table 不存在: %s", ids[i])
			continue
		}
		addrs, deactivated, err := ParseLookupTable(info.Data, info.Owner)
		if err != nil {
			return fmt.Errorf("parse lookup table %s: %w", ids[i], err)
		}
		if deactivated {
			logger.Warnf("[RpcTableFetcher] lookup table 已停用，冷却期结束后将不可用: %s", ids[i])
		}
		out[ids[i]] = addrs
	}
	return nil
}

// ParseLookupTable 解析 lookup table 账户数据，返回地址列表与是否已停用。
// 地址段固定从 LOOKUP_TABLE_META_SIZE 开始；authority 为空（已冻结）时 SDK 会少跳 32 字节，此时自行切分。
func ParseLookupTable(data []byte, owner common.PublicKey) ([]types.Pubkey, bool, error) {
	table, err := alt.DeserializeLookupTable(data, owner)
	if err != nil {
		return nil, false, err
	}
	if table.ProgramState != alt.ProgramStateLookupTable {
		return nil, false, errors.New("lookup table is not initialized")
	}
	body := data[alt.LOOKUP_TABLE_META_SIZE:]
	if len(body)%32 != 0 {
		return nil, false, fmt.Errorf("invalid address section length: %d", len(body))
	}

	addrs := make([]types.Pubkey, len(body)/32)
	if table.Authority != nil && len(table.Addresses) == len(addrs) {
		for i, a := range table.Addresses {
			addrs[i] = types.PubkeyFromCommon(a)
		}
	} else {
		for i := range addrs {
			copy(addrs[i][:], body[i*32:(i+1)*32])
		}
	}
	return addrs, table.DeactivationSlot != math.MaxUint64, nil
}
