package chain

import (
	"context"
	"fmt"
	"time"

	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/pkg/logger"

	"github.com/blocto/solana-go-sdk/client"
)

type blockhashFunc func(ctx context.Context) (string, uint64, error)

// RpcBlockhash 通过 getLatestBlockhash 获取 blockhash
type RpcBlockhash struct {
	fetch   blockhashFunc
	timeout time.Duration
}

func NewRpcBlockhash(c *client.Client, timeout time.Duration) *RpcBlockhash {
	return newRpcBlockhash(func(ctx context.Context) (string, uint64, error) {
		v, err := c.GetLatestBlockhash(ctx)
		if err != nil {
			return "", 0, err
		}
		return v.Blockhash, v.LatestValidBlockHeight, nil
	}, timeout)
}

func newRpcBlockhash(fetch blockhashFunc, timeout time.Duration) *RpcBlockhash {
	return &RpcBlockhash{fetch: fetch, timeout: timeout}
}

func (p *RpcBlockhash) LatestBlockhash(ctx context.Context) (txbuilder.Blockhash, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	hash, height, err := p.fetch(ctx)
	if err != nil {
		return txbuilder.Blockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if hash == "" {
		return txbuilder.Blockhash{}, fmt.Errorf("getLatestBlockhash returned empty hash")
	}
	logger.Debugf("[RpcBlockhash] blockhash=%s 耗时=%v", hash, time.Since(start))
	return txbuilder.Blockhash{Hash: hash, LastValidBlockHeight: height}, nil
}
