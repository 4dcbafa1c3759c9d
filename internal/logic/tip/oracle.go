package tip

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"jito-bundler-sol/internal/cache"
	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/relay"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"
)

// FloorSource 提供 landed tip 分位统计
type FloorSource interface {
	GetTipFloor(ctx context.Context) (*relay.TipFloor, error)
}

// AccountSource 提供 relay 当前接受的 tip 账户
type AccountSource interface {
	GetTipAccounts(ctx context.Context) ([]string, error)
}

// Quote 一次运行使用的 tip
type Quote struct {
	Account   types.Pubkey
	Lamports  uint64
	FromFloor bool // false 表示 tip floor 不可用，使用了最低 tip
}

// Oracle 根据 tip floor 定价，并从 tip 账户中随机挑选一个收款账户
type Oracle struct {
	source FloorSource
	floors *cache.TipFloorCache
	cfg    config.TipConfig
	maxAge time.Duration

	mu       sync.RWMutex
	accounts []types.Pubkey
	rng      *rand.Rand

	now func() time.Time
}

func NewOracle(source FloorSource, floors *cache.TipFloorCache, cfg config.TipConfig, accounts []types.Pubkey) *Oracle {
	if len(accounts) == 0 {
		accounts = consts.JitoTipAccounts
	}
	interval := time.Duration(cfg.SyncIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Oracle{
		source:   source,
		floors:   floors,
		cfg:      cfg,
		maxAge:   2 * interval,
		accounts: append([]types.Pubkey(nil), accounts...),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// SolToLamports tip floor 接口以 SOL 为单位，向下取整为 lamports。
// 加一个极小量抵消 0.000001*1e9 这类浮点误差。
func SolToLamports(sol float64) uint64 {
	if sol <= 0 || math.IsNaN(sol) || math.IsInf(sol, 0) {
		return 0
	}
	return uint64(math.Floor(sol*float64(consts.LamportsPerSol) + 1e-6))
}

// Price tip = max(最低 tip, floor)，配置了上限时再截断
func Price(floor, min, max uint64) uint64 {
	tip := floor
	if tip < min {
		tip = min
	}
	if max > 0 && tip > max {
		tip = max
	}
	return tip
}

func ToPoint(f *relay.TipFloor, at time.Time) cache.TipFloorPoint {
	return cache.TipFloorPoint{
		Timestamp: at,
		P25:       SolToLamports(f.LandedTips25thPercentile),
		P50:       SolToLamports(f.LandedTips50thPercentile),
		P75:       SolToLamports(f.LandedTips75thPercentile),
		P95:       SolToLamports(f.LandedTips95thPercentile),
		P99:       SolToLamports(f.LandedTips99thPercentile),
		EMA50:     SolToLamports(f.EmaLandedTips50thPercentile),
	}
}

// Refresh 拉取一次 tip floor 并写入缓存
func (o *Oracle) Refresh(ctx context.Context) (cache.TipFloorPoint, error) {
	if o.source == nil {
		return cache.TipFloorPoint{}, fmt.Errorf("no tip floor source")
	}
	f, err := o.source.GetTipFloor(ctx)
	if err != nil {
		return cache.TipFloorPoint{}, err
	}
	p := ToPoint(f, o.now())
	o.floors.Insert(p)
	return p, nil
}

// Quote 为一次运行定价。tip floor 不可用时退化为最低 tip，不阻塞提交。
func (o *Oracle) Quote(ctx context.Context) (Quote, error) {
	account, err := o.Account()
	if err != nil {
		return Quote{}, err
	}

	point, ok := o.floors.LatestWithin(o.now(), o.maxAge)
	if !ok {
		p, err := o.Refresh(ctx)
		if err != nil {
			logger.Warnf("[TipOracle] tip floor 不可用，使用最低 tip %d: %v", o.cfg.MinLamports, err)
			return Quote{Account: account, Lamports: Price(0, o.cfg.MinLamports, o.cfg.MaxLamports)}, nil
		}
		point = p
	}

	lamports := Price(point.Percentile(o.cfg.Percentile), o.cfg.MinLamports, o.cfg.MaxLamports)
	logger.Debugf("[TipOracle] p%d=%d tip=%d account=%s", o.cfg.Percentile, point.Percentile(o.cfg.Percentile), lamports, account)
	return Quote{Account: account, Lamports: lamports, FromFloor: true}, nil
}

// Account 均匀随机挑选一个 tip 账户
func (o *Oracle) Account() (types.Pubkey, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.accounts) == 0 {
		return types.Pubkey{}, fmt.Errorf("no tip accounts")
	}
	return o.accounts[o.rng.Intn(len(o.accounts))], nil
}

func (o *Oracle) Accounts() []types.Pubkey {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]types.Pubkey(nil), o.accounts...)
}

// SyncAccounts 用 relay 返回的 tip 账户替换本地列表
func (o *Oracle) SyncAccounts(ctx context.Context, src AccountSource) error {
	strs, err := src.GetTipAccounts(ctx)
	if err != nil {
		return err
	}
	accounts, err := types.TryPubkeysFromBase58(strs)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return fmt.Errorf("relay returned no tip accounts")
	}
	o.mu.Lock()
	o.accounts = accounts
	o.mu.Unlock()
	logger.Infof("[TipOracle] tip 账户已同步: %d 个", len(accounts))
	return nil
}
