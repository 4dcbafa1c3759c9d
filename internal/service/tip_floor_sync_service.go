package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/tip"
	"jito-bundler-sol/internal/pkg/logger"
)

// TipFloorSyncService 周期性刷新 tip floor 缓存，实现 go-zero service.Service
type TipFloorSyncService struct {
	oracle   *tip.Oracle
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	ctx      context.Context
	cancel   func(err error)
}

func NewTipFloorSyncService(cfg *config.TipConfig, oracle *tip.Oracle) *TipFloorSyncService {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &TipFloorSyncService{
		oracle:   oracle,
		interval: time.Duration(cfg.SyncIntervalSec) * time.Second,
		timeout:  5 * time.Second,
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	// 初始化失败不致命，Quote 会退化为最低 tip
	const retryCount = 2
	for i := 0; i <= retryCount; i++ {
		if err := s.update(); err != nil {
			logger.Warnf("[TipFloorSyncService] 第 %d 次 update() 失败: %v", i+1, err)
			time.Sleep(time.Second)
			continue
		}
		logger.Infof("[TipFloorSyncService] 初始 tip floor 同步成功")
		break
	}
	return s
}

func (s *TipFloorSyncService) Start() {
	s.scheduleNext()
	<-s.stopChan
}

func (s *TipFloorSyncService) scheduleNext() {
	time.AfterFunc(s.interval, func() {
		if err := s.update(); err != nil {
			logger.Warnf("[TipFloorSyncService] 周期性更新失败: %v", err)
		}
		select {
		case <-s.ctx.Done():
			return
		default:
			s.scheduleNext()
		}
	})
}

func (s *TipFloorSyncService) Stop() {
	s.cancel(errors.New("TipFloorSyncService stop"))
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

func (s *TipFloorSyncService) update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[TipFloorSyncService] update panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("update panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	p, err := s.oracle.Refresh(ctx)
	if err != nil {
		return err
	}
	logger.Infof("[TipFloorSyncService] p25=%d p50=%d p75=%d p95=%d p99=%d, 耗时: %v",
		p.P25, p.P50, p.P75, p.P95, p.P99, time.Since(start))
	return nil
}
