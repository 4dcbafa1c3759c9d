package cache

import (
	"sync"
	"time"
)

// TipFloorPoint 一次 tip floor 采样，单位 lamports
type TipFloorPoint struct {
	Timestamp time.Time
	P25       uint64
	P50       uint64
	P75       uint64
	P95       uint64
	P99       uint64
	EMA50     uint64
}

// Percentile 按分位取值，不支持的分位返回 0
func (p TipFloorPoint) Percentile(pct int) uint64 {
	switch pct {
	case 25:
		return p.P25
	case 50:
		return p.P50
	case 75:
		return p.P75
	case 95:
		return p.P95
	case 99:
		return p.P99
	}
	return 0
}

// TipFloorCache 保存最近的 tip floor 采样，按时间升序
type TipFloorCache struct {
	mu     sync.RWMutex
	points []TipFloorPoint
}

const (
	tipFloorMaxCapacity = 120
	tipFloorRetainCount = 90
)

func NewTipFloorCache() *TipFloorCache {
	return &TipFloorCache{
		points: make([]TipFloorPoint, 0, tipFloorMaxCapacity),
	}
}

// Insert 追加采样，早于最新采样的点直接丢弃
func (c *TipFloorCache) Insert(p TipFloorPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.points); n > 0 && p.Timestamp.Before(c.points[n-1].Timestamp) {
		return
	}
	if len(c.points) >= tipFloorMaxCapacity {
		// 超过容量时只保留最近的部分，避免每次插入都搬移
		kept := make([]TipFloorPoint, tipFloorRetainCount, tipFloorMaxCapacity)
		copy(kept, c.points[len(c.points)-tipFloorRetainCount:])
		c.points = kept
	}
	c.points = append(c.points, p)
}

// Latest 返回最新采样
func (c *TipFloorCache) Latest() (TipFloorPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.points) == 0 {
		return TipFloorPoint{}, false
	}
	return c.points[len(c.points)-1], true
}

// LatestWithin 返回不早于 now-maxAge 的最新采样
func (c *TipFloorCache) LatestWithin(now time.Time, maxAge time.Duration) (TipFloorPoint, bool) {
	p, ok := c.Latest()
	if !ok || now.Sub(p.Timestamp) > maxAge {
		return TipFloorPoint{}, false
	}
	return p, true
}

func (c *TipFloorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}
