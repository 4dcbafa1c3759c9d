package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// GeyserClient 通过 Yellowstone gRPC 获取最新 blockhash，实现 txbuilder.BlockhashProvider
type GeyserClient struct {
	mu         sync.Mutex
	conn       *grpc.ClientConn
	client     pb.GeyserClient
	xToken     string
	commitment pb.CommitmentLevel
	timeout    time.Duration
	closed     bool
}

func NewGeyserClient(cfg config.GeyserConfig, callTimeout time.Duration) (*GeyserClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("geyser endpoint is empty")
	}

	creds := credentials.NewTLS(&tls.Config{})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectTimeoutSec)*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		cfg.Endpoint,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxCallRecvMsgSize)),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(cfg.KeepalivePingIntervalSec) * time.Second,
			Timeout:             time.Duration(cfg.KeepalivePingTimeoutSec) * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect geyser %s: %w", cfg.Endpoint, err)
	}
	logger.Infof("[Geyser] 已连接: %s", cfg.Endpoint)

	return newGeyserClient(conn, pb.NewGeyserClient(conn), cfg.XToken, cfg.Commitment, callTimeout), nil
}

func newGeyserClient(conn *grpc.ClientConn, client pb.GeyserClient, xToken, commitment string, timeout time.Duration) *GeyserClient {
	return &GeyserClient{
		conn:       conn,
		client:     client,
		xToken:     xToken,
		commitment: parseCommitment(commitment),
		timeout:    timeout,
	}
}

func parseCommitment(s string) pb.CommitmentLevel {
	switch s {
	case "processed":
		return pb.CommitmentLevel_PROCESSED
	case "finalized":
		return pb.CommitmentLevel_FINALIZED
	default:
		return pb.CommitmentLevel_CONFIRMED
	}
}

func (g *GeyserClient) withToken(ctx context.Context) context.Context {
	if g.xToken == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "x-token", g.xToken)
}

func (g *GeyserClient) LatestBlockhash(ctx context.Context) (txbuilder.Blockhash, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	commitment := g.commitment
	resp, err := g.client.GetLatestBlockhash(g.withToken(ctx), &pb.GetLatestBlockhashRequest{Commitment: &commitment})
	if err != nil {
		return txbuilder.Blockhash{}, fmt.Errorf("geyser GetLatestBlockhash: %w", err)
	}
	if resp.GetBlockhash() == "" {
		return txbuilder.Blockhash{}, fmt.Errorf("geyser returned empty blockhash at slot %d", resp.GetSlot())
	}
	logger.Debugf("[Geyser] blockhash=%s slot=%d", resp.GetBlockhash(), resp.GetSlot())
	return txbuilder.Blockhash{Hash: resp.GetBlockhash(), LastValidBlockHeight: resp.GetLastValidBlockHeight()}, nil
}

// Ping 检查连接可用，启动时调用
func (g *GeyserClient) Ping(ctx context.Context) error {
	resp, err := g.client.GetVersion(g.withToken(ctx), &pb.GetVersionRequest{})
	if err != nil {
		return err
	}
	logger.Infof("[Geyser] version: %s", resp.GetVersion())
	return nil
}

func (g *GeyserClient) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			logger.Warnf("[Geyser] 关闭连接失败: %v", err)
		}
	}
}
