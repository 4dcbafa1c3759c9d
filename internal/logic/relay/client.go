package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/pkg/logger"

	"github.com/go-resty/resty/v2"
)

const (
	bundlesPath  = "/bundles"
	tipFloorPath = "/bundles/tip_floor"
	authHeader   = "x-jito-auth"
)

// Client Jito block engine 的 JSON-RPC 客户端，外加 bundles 统计接口。
// sendBundle 不做 HTTP 层重试，重试策略由调用方决定。
type Client struct {
	rpc    *resty.Client
	stats  *resty.Client
	nextID atomic.Uint64
}

func NewClient(c config.RelayConfig) *Client {
	rpc := resty.New().
		SetBaseURL(c.BlockEngineURL).
		SetTimeout(c.Timeout()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(logger.HTTPLogger{Prefix: "[Relay] "})
	if c.AuthUUID != "" {
		rpc.SetHeader(authHeader, c.AuthUUID)
	}

	stats := resty.New().
		SetBaseURL(c.BundlesURL).
		SetTimeout(c.Timeout()).
		SetHeader("Accept", "application/json").
		SetLogger(logger.HTTPLogger{Prefix: "[Relay] "}).
		SetRetryCount(c.RetryCount).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Client{rpc: rpc, stats: stats}
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{
		JsonRpc: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	var body rpcResponse
	resp, err := c.rpc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		SetError(&body).
		Post(bundlesPath)
	if err != nil {
		return fmt.Errorf("relay %s: %w", method, err)
	}
	if body.Error != nil {
		return fmt.Errorf("relay %s: %w", method, body.Error)
	}
	if resp.IsError() {
		return fmt.Errorf("relay %s: %w", method, &HTTPError{StatusCode: resp.StatusCode(), Body: resp.String()})
	}
	if out == nil {
		return nil
	}
	if len(body.Result) == 0 {
		return fmt.Errorf("relay %s: empty result", method)
	}
	if err := json.Unmarshal(body.Result, out); err != nil {
		return fmt.Errorf("relay %s: decode result: %w", method, err)
	}
	return nil
}

// SendBundle 提交 base64 编码的交易，返回 bundle id（可能为空，由调用方判断）
func (c *Client) SendBundle(ctx context.Context, txs []string) (string, error) {
	var id string
	err := c.call(ctx, "sendBundle", []any{txs, map[string]string{"encoding": "base64"}}, &id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetInflightBundleStatuses 查询最近 5 分钟内提交的 bundle 状态
func (c *Client) GetInflightBundleStatuses(ctx context.Context, ids []string) (*InflightStatusesResult, error) {
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	var out InflightStatusesResult
	if err := c.call(ctx, "getInflightBundleStatuses", []any{ids}, &out); err != nil {
		return nil, err
	}
	for _, v := range out.Value {
		if v == nil {
			continue
		}
		if err := config.Validator().Struct(v); err != nil {
			return nil, fmt.Errorf("relay getInflightBundleStatuses: invalid entry: %w", err)
		}
	}
	return &out, nil
}

// GetBundleStatuses 查询已上链 bundle 的交易签名与槽位
func (c *Client) GetBundleStatuses(ctx context.Context, ids []string) (*BundleStatusesResult, error) {
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	var out BundleStatusesResult
	if err := c.call(ctx, "getBundleStatuses", []any{ids}, &out); err != nil {
		return nil, err
	}
	for _, v := range out.Value {
		if v == nil {
			continue
		}
		if err := config.Validator().Struct(v); err != nil {
			return nil, fmt.Errorf("relay getBundleStatuses: invalid entry: %w", err)
		}
	}
	return &out, nil
}

// GetTipAccounts 返回当前 block engine 接受的 tip 账户
func (c *Client) GetTipAccounts(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, "getTipAccounts", nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("relay getTipAccounts: empty list")
	}
	if err := config.Validator().Var(out, "dive,base58"); err != nil {
		return nil, fmt.Errorf("relay getTipAccounts: %w", err)
	}
	return out, nil
}

// GetTipFloor 拉取最近的 landed tip 分位统计
func (c *Client) GetTipFloor(ctx context.Context) (*TipFloor, error) {
	var out []TipFloor
	resp, err := c.stats.R().
		SetContext(ctx).
		SetResult(&out).
		Get(tipFloorPath)
	if err != nil {
		return nil, fmt.Errorf("relay tip_floor: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("relay tip_floor: %w", &HTTPError{StatusCode: resp.StatusCode(), Body: resp.String()})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("relay tip_floor: empty response")
	}
	if err := config.Validator().Struct(&out[0]); err != nil {
		return nil, fmt.Errorf("relay tip_floor: %w", err)
	}
	return &out[0], nil
}

func checkIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no bundle ids")
	}
	if len(ids) > consts.MaxBundleStatusQuery {
		return fmt.Errorf("at most %d bundle ids per query, got %d", consts.MaxBundleStatusQuery, len(ids))
	}
	return nil
}
