package progress

import (
	"jito-bundler-sol/internal/logic/core"
)

// BundleRecord 一次运行提交的 bundle 状态记录（Redis 中短期保存，带 TTL）
type BundleRecord struct {
	RunID       string   `json:"run_id"`
	BundleID    string   `json:"bundle_id"`
	Status      string   `json:"status"` // core.BundleStatus 的字符串形式
	Txs         int      `json:"txs"`
	TipLamports uint64   `json:"tip_lamports"`
	TipAccount  string   `json:"tip_account,omitempty"`
	LandedSlot  uint64   `json:"landed_slot,omitempty"`
	Signatures  []string `json:"signatures,omitempty"`
	Error       string   `json:"error,omitempty"`
	UpdatedAt   int64    `json:"updated_at"` // Unix 秒
}

// BundleStatus 解析记录中的状态
func (r *BundleRecord) BundleStatus() core.BundleStatus {
	if r.Status == core.BundleTimedOut.String() {
		return core.BundleTimedOut
	}
	return core.ParseBundleStatus(r.Status)
}

// IsTerminal 终态记录不再被 Pending 覆盖
func (r *BundleRecord) IsTerminal() bool {
	return r.BundleStatus().IsTerminal()
}
