package progress

import (
	"context"
	"time"

	"jito-bundler-sol/internal/pkg/logger"
)

// BundleStore bundle 状态的持久层
type BundleStore interface {
	Save(ctx context.Context, rec *BundleRecord) error
	Get(ctx context.Context, bundleID string) (*BundleRecord, error)
	GetByRun(ctx context.Context, runID string) (*BundleRecord, error)
}

// ProgressManager 记录 bundle 状态：直接写 store，失败的记录进入缓冲，下次写入前重放
type ProgressManager struct {
	store  BundleStore
	buffer *recordBuffer
	now    func() time.Time
}

func NewProgressManager(store BundleStore) *ProgressManager {
	return &ProgressManager{
		store:  store,
		buffer: newRecordBuffer(),
		now:    time.Now,
	}
}

// Record 写入一条状态记录。写入失败只记录日志，不影响提交流程。
func (pm *ProgressManager) Record(ctx context.Context, rec *BundleRecord) {
	if pm == nil || pm.store == nil {
		return
	}
	rec.UpdatedAt = pm.now().Unix()
	pm.Flush(ctx)

	if err := pm.store.Save(ctx, rec); err != nil {
		logger.Warnf("[ProgressManager] 写入 bundle 状态失败，稍后重试: bundle=%s status=%s err=%v",
			rec.BundleID, rec.Status, err)
		pm.buffer.Add(rec)
		return
	}
	pm.buffer.Remove(rec.BundleID)
}

// Flush 重放缓冲中的记录，仍然失败的重新放回
func (pm *ProgressManager) Flush(ctx context.Context) {
	if pm.buffer.Len() == 0 {
		return
	}
	for _, rec := range pm.buffer.Flush() {
		if err := pm.store.Save(ctx, rec); err != nil {
			pm.buffer.Add(rec)
			continue
		}
		logger.Infof("[ProgressManager] 补写 bundle 状态成功: bundle=%s status=%s", rec.BundleID, rec.Status)
	}
}

// Pending 尚未成功写入的记录数
func (pm *ProgressManager) Pending() int {
	return pm.buffer.Len()
}

// Lookup 查询 bundle 状态
func (pm *ProgressManager) Lookup(ctx context.Context, bundleID string) (*BundleRecord, error) {
	return pm.store.Get(ctx, bundleID)
}

// LookupRun 按 run id 查询该次运行提交的 bundle
func (pm *ProgressManager) LookupRun(ctx context.Context, runID string) (*BundleRecord, error) {
	return pm.store.GetByRun(ctx, runID)
}
