package opsource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/relay"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"

	solTypes "github.com/blocto/solana-go-sdk/types"
	"github.com/go-resty/resty/v2"
)

const (
	quotePath            = "/quote"
	swapInstructionsPath = "/swap-instructions"
	apiKeyHeader         = "x-api-key"
)

// DefaultExcludeDexes 事件无法解析的 DEX，报价时排除
var DefaultExcludeDexes = []string{
	"Perena", "Stabble Stable Swap", "1DEX", "Stabble Weighted Swap", "Saros",
	"Penguin", "DexLab", "Token Mill", "Bonkswap", "Oasis",
}

// Quote 报价结果。Raw 原样回传给 swap-instructions。
type Quote struct {
	InputMint  types.Pubkey
	OutputMint types.Pubkey
	InAmount   uint64
	OutAmount  uint64
	Label      string // 首个路由的 DEX 名
	Raw        json.RawMessage
}

type quoteBody struct {
	InputMint  string `json:"inputMint" validate:"required,base58"`
	OutputMint string `json:"outputMint" validate:"required,base58"`
	InAmount   string `json:"inAmount" validate:"required,numeric"`
	OutAmount  string `json:"outAmount" validate:"required,numeric"`
	RoutePlan  []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// JupAccount / JupInstruction 对应 swap-instructions 的指令格式
type JupAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type JupInstruction struct {
	ProgramID string       `json:"programId"`
	Accounts  []JupAccount `json:"accounts"`
	Data      string       `json:"data"` // base64
}

// SwapInstructions swap-instructions 的响应。compute budget 指令由打包流程统一生成，这里忽略。
type SwapInstructions struct {
	SetupInstructions           []*JupInstruction `json:"setupInstructions"`
	SwapInstruction             *JupInstruction   `json:"swapInstruction"`
	CleanupInstruction          *JupInstruction   `json:"cleanupInstruction"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
}

// SwapOptions swap-instructions 的可选参数，托管模式下由 VaultWrapper 填写
type SwapOptions struct {
	UserPublicKey           types.Pubkey
	WrapAndUnwrapSol        bool
	DestinationTokenAccount types.Pubkey
}

// JupiterClient Jupiter swap API 客户端
type JupiterClient struct {
	http         *resty.Client
	slippageBps  int
	excludeDexes []string
}

func NewJupiterClient(c config.JupiterConfig) *JupiterClient {
	h := resty.New().
		SetBaseURL(strings.TrimRight(c.BaseURL, "/")).
		SetTimeout(c.Timeout()).
		SetHeader("Accept", "application/json").
		SetLogger(logger.HTTPLogger{Prefix: "[Jupiter] "})
	if c.APIKey != "" {
		h.SetHeader(apiKeyHeader, c.APIKey)
	}
	exclude := c.ExcludeDexes
	if len(exclude) == 0 {
		exclude = DefaultExcludeDexes
	}
	return &JupiterClient{http: h, slippageBps: c.SlippageBps, excludeDexes: exclude}
}

// Quote 优先只走直连路由，没有路由（HTTP 400）时放开限制再试一次
func (j *JupiterClient) Quote(ctx context.Context, inputMint, outputMint types.Pubkey, amount uint64) (*Quote, error) {
	q, status, err := j.quote(ctx, inputMint, outputMint, amount, true)
	if err != nil && status == http.StatusBadRequest {
		logger.Infof("[Jupiter] 无直连路由，改用全部路由: %s -> %s amount=%d", inputMint, outputMint, amount)
		q, _, err = j.quote(ctx, inputMint, outputMint, amount, false)
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (j *JupiterClient) quote(ctx context.Context, inputMint, outputMint types.Pubkey, amount uint64, direct bool) (*Quote, int, error) {
	params := map[string]string{
		"inputMint":        inputMint.String(),
		"outputMint":       outputMint.String(),
		"amount":           strconv.FormatUint(amount, 10),
		"slippageBps":      strconv.Itoa(j.slippageBps),
		"onlyDirectRoutes": strconv.FormatBool(direct),
	}
	if len(j.excludeDexes) > 0 {
		params["excludeDexes"] = strings.Join(j.excludeDexes, ",")
	}

	resp, err := j.http.R().SetContext(ctx).SetQueryParams(params).Get(quotePath)
	if err != nil {
		return nil, 0, fmt.Errorf("jupiter quote: %w", err)
	}
	if resp.IsError() {
		return nil, resp.StatusCode(), fmt.Errorf("jupiter quote: %w",
			&relay.HTTPError{StatusCode: resp.StatusCode(), Body: resp.String()})
	}

	raw := resp.Body()
	var body quoteBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, resp.StatusCode(), fmt.Errorf("jupiter quote: decode: %w", err)
	}
	if err := config.Validator().Struct(&body); err != nil {
		return nil, resp.StatusCode(), fmt.Errorf("jupiter quote: invalid response: %w", err)
	}
	q := &Quote{
		InputMint:  types.PubkeyFromBase58(body.InputMint),
		OutputMint: types.PubkeyFromBase58(body.OutputMint),
		Raw:        json.RawMessage(append([]byte(nil), raw...)),
	}
	q.InAmount, _ = strconv.ParseUint(body.InAmount, 10, 64)
	q.OutAmount, _ = strconv.ParseUint(body.OutAmount, 10, 64)
	if len(body.RoutePlan) > 0 {
		q.Label = body.RoutePlan[0].SwapInfo.Label
	}
	return q, resp.StatusCode(), nil
}

// SwapInstructions 获取报价对应的指令
func (j *JupiterClient) SwapInstructions(ctx context.Context, q *Quote, opts SwapOptions) (*SwapInstructions, error) {
	req := map[string]any{
		"quoteResponse":    q.Raw,
		"userPublicKey":    opts.UserPublicKey.String(),
		"wrapAndUnwrapSol": opts.WrapAndUnwrapSol,
	}
	if !opts.DestinationTokenAccount.IsZero() {
		req["destinationTokenAccount"] = opts.DestinationTokenAccount.String()
	}

	resp, err := j.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(swapInstructionsPath)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap-instructions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("jupiter swap-instructions: %w",
			&relay.HTTPError{StatusCode: resp.StatusCode(), Body: resp.String()})
	}
	// 不依赖响应的 Content-Type，直接解码
	var out SwapInstructions
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("jupiter swap-instructions: decode: %w", err)
	}
	if out.SwapInstruction == nil {
		return nil, fmt.Errorf("jupiter swap-instructions: missing swap instruction")
	}
	return &out, nil
}

// Instructions 按 setup、swap、cleanup 的顺序转换为 SDK 指令
func (s *SwapInstructions) Instructions() ([]solTypes.Instruction, error) {
	all := make([]*JupInstruction, 0, len(s.SetupInstructions)+2)
	all = append(all, s.SetupInstructions...)
	all = append(all, s.SwapInstruction, s.CleanupInstruction)

	out := make([]solTypes.Instruction, 0, len(all))
	for _, ix := range all {
		if ix == nil {
			continue
		}
		conv, err := ix.ToInstruction()
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

// LookupTables 解析 lookup table 地址
func (s *SwapInstructions) LookupTables() ([]types.Pubkey, error) {
	return types.TryPubkeysFromBase58(s.AddressLookupTableAddresses)
}

func (ix *JupInstruction) ToInstruction() (solTypes.Instruction, error) {
	program, err := types.TryPubkeyFromBase58(ix.ProgramID)
	if err != nil {
		return solTypes.Instruction{}, fmt.Errorf("program id %q: %w", ix.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return solTypes.Instruction{}, fmt.Errorf("instruction data: %w", err)
	}
	metas := make([]solTypes.AccountMeta, len(ix.Accounts))
	for i, acc := range ix.Accounts {
		pk, err := types.TryPubkeyFromBase58(acc.Pubkey)
		if err != nil {
			return solTypes.Instruction{}, fmt.Errorf("account %d %q: %w", i, acc.Pubkey, err)
		}
		metas[i] = solTypes.AccountMeta{PubKey: pk.ToCommon(), IsSigner: acc.IsSigner, IsWritable: acc.IsWritable}
	}
	return solTypes.Instruction{ProgramID: program.ToCommon(), Accounts: metas, Data: data}, nil
}
