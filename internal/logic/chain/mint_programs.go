package chain

import (
	"context"
	"fmt"
	"time"

	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/client"
)

type accountsGetter interface {
	GetMultipleAccounts(ctx context.Context, addrs []string) ([]client.AccountInfo, error)
}

// MintPrograms 查询 mint 所属的 token 程序（Token / Token-2022），liquidation 关闭账户时需要
type MintPrograms struct {
	client   accountsGetter
	timeout  time.Duration
	batchMax int
}

func NewMintPrograms(c *client.Client, timeout time.Duration, batchMax int) *MintPrograms {
	return newMintPrograms(c, timeout, batchMax)
}

func newMintPrograms(c accountsGetter, timeout time.Duration, batchMax int) *MintPrograms {
	if batchMax <= 0 {
		batchMax = 100
	}
	return &MintPrograms{client: c, timeout: timeout, batchMax: batchMax}
}

// Resolve 返回每个 mint 的 owner 程序。原生 SOL 不查询，直接返回 Token 程序。
func (m *MintPrograms) Resolve(ctx context.Context, mints []types.Pubkey) (map[types.Pubkey]types.Pubkey, error) {
	out := make(map[types.Pubkey]types.Pubkey, len(mints))
	query := make([]types.Pubkey, 0, len(mints))
	for _, mint := range mints {
		if consts.IsNativeMint(mint) {
			out[mint] = consts.TokenProgram
			continue
		}
		if _, ok := out[mint]; ok {
			continue
		}
		out[mint] = types.Pubkey{}
		query = append(query, mint)
	}

	for start := 0; start < len(query); start += m.batchMax {
		end := min(start+m.batchMax, len(query))
		if err := m.fetchChunk(ctx, query[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *MintPrograms) fetchChunk(ctx context.Context, mints []types.Pubkey, out map[types.Pubkey]types.Pubkey) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	addrs := make([]string, len(mints))
	for i, mint := range mints {
		addrs[i] = mint.String()
	}
	infos, err := m.client.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return fmt.Errorf("GetMultipleAccounts failed: %w", err)
	}
	if len(infos) != len(mints) {
		return fmt.Errorf("返回账户数与请求不一致: got=%d want=%d", len(infos), len(mints))
	}
	for i, info := range infos {
		owner := types.PubkeyFromCommon(info.Owner)
		if owner.IsZero() {
			return fmt.Errorf("mint 不存在: %s", mints[i])
		}
		if owner != consts.TokenProgram && owner != consts.TokenProgram2022 {
			return fmt.Errorf("mint %s 不属于 token 程序: owner=%s", mints[i], owner)
		}
		out[mints[i]] = owner
	}
	return nil
}
