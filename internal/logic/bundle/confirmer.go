package bundle

import (
	"context"
	"time"

	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/logic/relay"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
)

// StatusQuerier relay 的状态查询接口
type StatusQuerier interface {
	GetInflightBundleStatuses(ctx context.Context, ids []string) (*relay.InflightStatusesResult, error)
	GetBundleStatuses(ctx context.Context, ids []string) (*relay.BundleStatusesResult, error)
}

// Confirmation 终态结果
type Confirmation struct {
	BundleID           string
	Status             core.BundleStatus
	LandedSlot         uint64
	Signatures         []string // 仅 Landed 且补充查询成功时存在
	ConfirmationStatus string
	Polls              int
	Elapsed            time.Duration
}

// Confirmer 轮询 bundle 状态直到终态或超时
type Confirmer struct {
	querier  StatusQuerier
	clock    Clock
	interval time.Duration
	deadline time.Duration
}

func NewConfirmer(querier StatusQuerier, clock Clock, interval, deadline time.Duration) *Confirmer {
	if clock == nil {
		clock = RealClock
	}
	return &Confirmer{querier: querier, clock: clock, interval: interval, deadline: deadline}
}

// Await 状态机：Pending 经轮询转入 Landed / Failed / Invalid，截止时间前未到终态则转入 TimedOut。
// 轮询的网络错误按 Pending 处理。
func (c *Confirmer) Await(ctx context.Context, bundleID string) (*Confirmation, error) {
	start := c.clock.Now()
	deadline := start.Add(c.deadline)
	conf := &Confirmation{BundleID: bundleID, Status: core.BundlePending}

	for {
		entry := c.poll(ctx, bundleID)
		conf.Polls++
		conf.Status = transition(entry)
		conf.Elapsed = c.clock.Now().Sub(start)

		switch conf.Status {
		case core.BundleLanded:
			if entry.landedSlot != nil {
				conf.LandedSlot = *entry.landedSlot
			}
			c.enrich(ctx, conf)
			logger.Infof("[Confirmer] bundle 已上链: id=%s slot=%d polls=%d elapsed=%v",
				bundleID, conf.LandedSlot, conf.Polls, conf.Elapsed)
			return conf, nil
		case core.BundleFailed:
			return conf, xerrors.New(xerrors.CodeBundleFailed, "bundle failed",
				xerrors.WithMetadata(xerrors.MetaBundleID, bundleID))
		case core.BundleInvalid:
			return conf, xerrors.New(xerrors.CodeBundleInvalid, "bundle invalid or unknown to relay",
				xerrors.WithMetadata(xerrors.MetaBundleID, bundleID))
		}

		now := c.clock.Now()
		if !now.Before(deadline) {
			conf.Status = core.BundleTimedOut
			logger.Warnf("[Confirmer] bundle 确认超时: id=%s polls=%d", bundleID, conf.Polls)
			return conf, xerrors.New(xerrors.CodeConfirmTimeout, "bundle not confirmed before deadline, it may still land",
				xerrors.WithMetadata(xerrors.MetaBundleID, bundleID),
				xerrors.WithMetadata("deadline", c.deadline))
		}

		wait := c.interval
		if remain := deadline.Sub(now); remain < wait {
			wait = remain
		}
		select {
		case <-ctx.Done():
			conf.Status = core.BundleTimedOut
			return conf, xerrors.Wrap(xerrors.CodeConfirmTimeout, ctx.Err(), "confirmation aborted, bundle may still land",
				xerrors.WithMetadata(xerrors.MetaBundleID, bundleID))
		case <-c.clock.After(wait):
		}
	}
}

// pollResult 一次轮询的观测
type pollResult struct {
	known      bool // relay 已收录该 bundle
	missing    bool // value 中对应元素为 null
	status     string
	landedSlot *uint64
}

func (c *Confirmer) poll(ctx context.Context, bundleID string) pollResult {
	resp, err := c.querier.GetInflightBundleStatuses(ctx, []string{bundleID})
	if err != nil {
		logger.Warnf("[Confirmer] 查询 bundle 状态失败，稍后重试: id=%s err=%v", bundleID, err)
		return pollResult{}
	}
	if resp == nil || len(resp.Value) == 0 {
		// relay 尚未收录
		return pollResult{}
	}
	entry := resp.Value[0]
	if entry == nil {
		return pollResult{missing: true}
	}
	return pollResult{known: true, status: entry.Status, landedSlot: entry.LandedSlot}
}

// transition 根据一次观测计算下一个状态
func transition(r pollResult) core.BundleStatus {
	if r.missing {
		return core.BundleInvalid
	}
	if !r.known {
		return core.BundlePending
	}
	return core.ParseBundleStatus(r.status)
}

// enrich 补充交易签名与槽位，失败只记录日志
func (c *Confirmer) enrich(ctx context.Context, conf *Confirmation) {
	resp, err := c.querier.GetBundleStatuses(ctx, []string{conf.BundleID})
	if err != nil {
		logger.Warnf("[Confirmer] 获取 bundle 详情失败: id=%s err=%v", conf.BundleID, err)
		return
	}
	if resp == nil || len(resp.Value) == 0 || resp.Value[0] == nil {
		logger.Warnf("[Confirmer] bundle 详情为空: id=%s", conf.BundleID)
		return
	}
	detail := resp.Value[0]
	conf.Signatures = detail.Transactions
	conf.ConfirmationStatus = detail.ConfirmationStatus
	if detail.Slot > 0 {
		conf.LandedSlot = detail.Slot
	}
	if detail.Failed() {
		logger.Warnf("[Confirmer] bundle 已上链但详情带错误: id=%s err=%s", conf.BundleID, string(detail.Err))
	}
}
