package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc/metadata"
)

type cachedBlockhash struct {
	hash       txbuilder.Blockhash
	slot       uint64
	receivedAt time.Time
}

// BlockhashStream 订阅 blocks_meta，在内存中保留最新 blockhash。
// 缓存为空或超龄时回退到 fallback（通常是 GeyserClient 的 unary 查询）。
// 实现 go-zero service.Service 与 txbuilder.BlockhashProvider。
type BlockhashStream struct {
	mu                sync.Mutex
	client            pb.GeyserClient
	fallback          txbuilder.BlockhashProvider
	xToken            string
	commitment        pb.CommitmentLevel
	stream            pb.Geyser_SubscribeClient
	stopped           bool
	stopChan          chan struct{}
	reconnectAttempts int
	reconnectInterval time.Duration
	pingInterval      time.Duration
	sendTimeout       time.Duration
	idleTimeout       time.Duration
	maxAge            time.Duration
	connCtx           context.Context
	connCancel        context.CancelFunc

	latest   atomic.Pointer[cachedBlockhash]
	lastRecv atomic.Int64 // UnixNano
	now      func() time.Time
}

func NewBlockhashStream(g *GeyserClient, cfg config.GeyserConfig) *BlockhashStream {
	return newBlockhashStream(g.client, g, g.xToken, g.commitment, cfg)
}

func newBlockhashStream(client pb.GeyserClient, fallback txbuilder.BlockhashProvider, xToken string,
	commitment pb.CommitmentLevel, cfg config.GeyserConfig) *BlockhashStream {
	return &BlockhashStream{
		client:            client,
		fallback:          fallback,
		xToken:            xToken,
		commitment:        commitment,
		stopChan:          make(chan struct{}),
		reconnectInterval: secondsOr(cfg.ReconnectIntervalSec, 2),
		pingInterval:      secondsOr(cfg.StreamPingIntervalSec, 10),
		sendTimeout:       secondsOr(cfg.SendTimeoutSec, 5),
		idleTimeout:       secondsOr(cfg.IdleTimeoutSec, 30),
		maxAge:            secondsOr(cfg.MaxBlockhashAgeSec, 20),
		now:               time.Now,
	}
}

func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

// Start 连接成功后阻塞到 Stop
func (m *BlockhashStream) Start() {
	m.mustConnect()
	<-m.stopChan
}

func (m *BlockhashStream) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	close(m.stopChan)
}

// LatestBlockhash 优先返回订阅缓存
func (m *BlockhashStream) LatestBlockhash(ctx context.Context) (txbuilder.Blockhash, error) {
	if c := m.latest.Load(); c != nil {
		age := m.now().Sub(c.receivedAt)
		if age <= m.maxAge {
			return c.hash, nil
		}
		logger.Debugf("[BlockhashStream] 缓存已超龄 %v (slot=%d)，回退查询", age, c.slot)
	}
	if m.fallback == nil {
		return txbuilder.Blockhash{}, fmt.Errorf("blockhash stream has no fresh blockhash")
	}
	return m.fallback.LatestBlockhash(ctx)
}

// 循环直到连接成功或已停止
func (m *BlockhashStream) mustConnect() {
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		attempts := m.reconnectAttempts
		m.reconnectAttempts++
		m.mu.Unlock()

		if attempts > 0 {
			wait := m.reconnectInterval
			if attempts > 3 {
				wait *= 2
			}
			select {
			case <-m.stopChan:
				return
			case <-time.After(wait):
			}
		}

		logger.Infof("[BlockhashStream] 连接中... 第 %d 次", attempts+1)
		err := m.connect()
		if err == nil {
			return
		}
		logger.Warnf("[BlockhashStream] 连接失败: %v, 稍后重试", err)
	}
}

func (m *BlockhashStream) buildSubscribeRequest() *pb.SubscribeRequest {
	commitment := m.commitment
	return &pb.SubscribeRequest{
		BlocksMeta: map[string]*pb.SubscribeRequestFilterBlocksMeta{
			"blocks_meta": {},
		},
		Commitment: &commitment,
	}
}

// connect 只尝试一次
func (m *BlockhashStream) connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.New("stream is stopped")
	}

	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	ctx, cancel := context.WithCancel(context.Background())

	metaCtx := ctx
	if m.xToken != "" {
		metaCtx = metadata.AppendToOutgoingContext(ctx, "x-token", m.xToken)
	}
	stream, err := m.client.Subscribe(metaCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := sendWithTimeout(ctx, stream.Send, m.buildSubscribeRequest(), m.sendTimeout); err != nil {
		cancel()
		return fmt.Errorf("send subscribe request: %w", err)
	}

	m.connCtx, m.connCancel = ctx, cancel
	m.stream = stream
	m.reconnectAttempts = 0
	m.lastRecv.Store(m.now().UnixNano())
	logger.Infof("[BlockhashStream] 订阅成功")

	go m.pingLoop(ctx, stream)
	go m.recvLoop(ctx, stream)
	return nil
}

func (m *BlockhashStream) recvLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	for {
		update, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				logger.Warnf("[BlockhashStream] 服务端关闭了流，重连")
			} else {
				logger.Warnf("[BlockhashStream] 接收失败: %v，重连", err)
			}
			m.reconnect(ctx)
			return
		}
		m.handleUpdate(update)
	}
}

// handleUpdate 任意推送都刷新 lastRecv，只有 block meta 更新缓存
func (m *BlockhashStream) handleUpdate(update *pb.SubscribeUpdate) {
	m.lastRecv.Store(m.now().UnixNano())

	meta := update.GetBlockMeta()
	if meta == nil || meta.GetBlockhash() == "" {
		return
	}
	if prev := m.latest.Load(); prev != nil && prev.slot > meta.GetSlot() {
		return
	}
	height := meta.GetBlockHeight().GetBlockHeight()
	m.latest.Store(&cachedBlockhash{
		hash: txbuilder.Blockhash{
			Hash:                 meta.GetBlockhash(),
			LastValidBlockHeight: height + consts.BlockhashValidBlocks,
		},
		slot:       meta.GetSlot(),
		receivedAt: m.now(),
	})
}

// 心跳，顺带检查推送是否中断
func (m *BlockhashStream) pingLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	var id int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := m.now().Sub(time.Unix(0, m.lastRecv.Load())); idle > m.idleTimeout {
				logger.Warnf("[BlockhashStream] %v 未收到推送，触发重连", idle)
				m.reconnect(ctx)
				return
			}
			id++
			req := &pb.SubscribeRequest{Ping: &pb.SubscribeRequestPing{Id: id}}
			if err := sendWithTimeout(ctx, stream.Send, req, m.sendTimeout); err != nil {
				// 只记录，断流由 recvLoop 处理
				logger.Warnf("[BlockhashStream] ping 失败: %v", err)
			}
		}
	}
}

// reconnect 只处理当前连接发起的请求，旧连接的 goroutine 重复调用会被忽略
func (m *BlockhashStream) reconnect(from context.Context) {
	m.mu.Lock()
	if m.stopped || m.connCtx != from {
		m.mu.Unlock()
		return
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.connCtx = nil
	m.mu.Unlock()

	go m.mustConnect()
}

// 带超时的 Send
func sendWithTimeout[T any](ctx context.Context, sendFunc func(T) error, req T, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sendFunc(req)
	}()

	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case err := <-done:
		return err
	}
}
