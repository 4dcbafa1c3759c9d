package opsource

import (
	"context"
	"fmt"

	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/logic/txbuilder"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"
	"jito-bundler-sol/pkg/utils"

	solTypes "github.com/blocto/solana-go-sdk/types"
)

// Quoter 报价与指令接口，JupiterClient 实现
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint types.Pubkey, amount uint64) (*Quote, error)
	SwapInstructions(ctx context.Context, q *Quote, opts SwapOptions) (*SwapInstructions, error)
}

// MintProgramResolver 查询 mint 所属 token 程序
type MintProgramResolver interface {
	Resolve(ctx context.Context, mints []types.Pubkey) (map[types.Pubkey]types.Pubkey, error)
}

// Leg 一笔 swap：另一侧资产与输入数量
type Leg struct {
	Mint   types.Pubkey
	Amount uint64
}

// Portfolio 一个输入换多个输出，Leg.Amount 为每个输出花费的输入数量
type Portfolio struct {
	Input   types.Pubkey
	Outputs []Leg
	OrderID types.Pubkey // 托管模式下的订单 id
}

// Liquidation 多个输入换同一个输出，非原生输入在 swap 后关闭 token 账户
type Liquidation struct {
	Inputs  []Leg
	Output  types.Pubkey
	OrderID types.Pubkey
}

type swapLeg struct {
	input  types.Pubkey
	output types.Pubkey
	amount uint64
}

type legResult struct {
	op  *core.Operation
	err error
}

// Source 把资产调整计划转换为有序的操作列表
type Source struct {
	quoter  Quoter
	mints   MintProgramResolver
	vault   *VaultWrapper
	workers int
}

// NewSource vault 为空时直接使用 Jupiter 指令
func NewSource(quoter Quoter, mints MintProgramResolver, vault *VaultWrapper, workers int) *Source {
	if workers <= 0 {
		workers = 1
	}
	return &Source{quoter: quoter, mints: mints, vault: vault, workers: workers}
}

func (s *Source) Portfolio(ctx context.Context, user types.Pubkey, p Portfolio) ([]*core.Operation, error) {
	legs := make([]swapLeg, len(p.Outputs))
	for i, out := range p.Outputs {
		legs[i] = swapLeg{input: p.Input, output: out.Mint, amount: out.Amount}
	}
	return s.build(ctx, user, legs, p.OrderID, false)
}

func (s *Source) Liquidation(ctx context.Context, user types.Pubkey, l Liquidation) ([]*core.Operation, error) {
	legs := make([]swapLeg, len(l.Inputs))
	for i, in := range l.Inputs {
		legs[i] = swapLeg{input: in.Mint, output: l.Output, amount: in.Amount}
	}
	return s.build(ctx, user, legs, l.OrderID, true)
}

func (s *Source) build(ctx context.Context, user types.Pubkey, legs []swapLeg, orderID types.Pubkey, cleanup bool) ([]*core.Operation, error) {
	if len(legs) == 0 {
		return nil, nil
	}
	for i, leg := range legs {
		if leg.amount == 0 || leg.input == leg.output {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid swap leg",
				xerrors.WithStage(xerrors.StageResolve),
				xerrors.WithMetadata(xerrors.MetaOpIndex, i))
		}
	}

	programs, err := s.mintPrograms(ctx, legs, cleanup)
	if err != nil {
		return nil, err
	}

	indexes := make([]int, len(legs))
	for i := range indexes {
		indexes[i] = i
	}
	results := utils.ParallelMap(indexes, s.workers, func(i int) legResult {
		op, err := s.buildLeg(ctx, user, legs[i], programs, orderID, cleanup)
		return legResult{op: op, err: err}
	})

	ops := make([]*core.Operation, len(legs))
	for i, r := range results {
		if r.err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstream, r.err, "build swap operation failed",
				xerrors.WithMetadata(xerrors.MetaOpIndex, i))
		}
		ops[i] = r.op
	}
	logger.Infof("[OpSource] 生成 %d 个操作, cleanup=%v vault=%v", len(ops), cleanup, s.vault != nil)
	return ops, nil
}

// mintPrograms 只在需要时查询：liquidation 关闭账户，或托管模式推导 ATA
func (s *Source) mintPrograms(ctx context.Context, legs []swapLeg, cleanup bool) (map[types.Pubkey]types.Pubkey, error) {
	if !cleanup && s.vault == nil {
		return map[types.Pubkey]types.Pubkey{}, nil
	}
	if s.mints == nil {
		return nil, xerrors.New(xerrors.CodeInvalidConfig, "mint program resolver is required")
	}
	mints := make([]types.Pubkey, 0, len(legs)*2)
	for _, leg := range legs {
		mints = append(mints, leg.input, leg.output)
	}
	programs, err := s.mints.Resolve(ctx, mints)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, "resolve mint programs failed")
	}
	return programs, nil
}

func (s *Source) buildLeg(ctx context.Context, user types.Pubkey, leg swapLeg, programs map[types.Pubkey]types.Pubkey, orderID types.Pubkey, cleanup bool) (*core.Operation, error) {
	q, err := s.quoter.Quote(ctx, leg.input, leg.output, leg.amount)
	if err != nil {
		return nil, err
	}

	opts := SwapOptions{UserPublicKey: user, WrapAndUnwrapSol: true}
	var vs VaultSwap
	var va VaultAccounts
	if s.vault != nil {
		vs = VaultSwap{
			Signer:            user,
			OrderID:           orderID,
			InputMint:         leg.input,
			InputMintProgram:  programs[leg.input],
			OutputMint:        leg.output,
			OutputMintProgram: programs[leg.output],
		}
		if va, err = s.vault.Accounts(vs); err != nil {
			return nil, err
		}
		opts = SwapOptions{UserPublicKey: va.Manager, DestinationTokenAccount: va.TokenVault}
	}

	si, err := s.quoter.SwapInstructions(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	tables, err := si.LookupTables()
	if err != nil {
		return nil, fmt.Errorf("lookup table address: %w", err)
	}

	var ixs []solTypes.Instruction
	if s.vault != nil {
		swap, err := si.SwapInstruction.ToInstruction()
		if err != nil {
			return nil, err
		}
		wrapped, err := s.vault.Wrap(vs, va, swap)
		if err != nil {
			return nil, err
		}
		ixs = []solTypes.Instruction{wrapped}
	} else if ixs, err = si.Instructions(); err != nil {
		return nil, err
	}

	op := &core.Operation{
		Instructions:   ixs,
		LookupTableIDs: tables,
		Unit: core.SwapUnit{
			InputMint:  leg.input,
			OutputMint: leg.output,
			InAmount:   q.InAmount,
			OutAmount:  q.OutAmount,
			Label:      q.Label,
		},
	}
	if cleanup && s.vault == nil && !consts.IsNativeMint(leg.input) {
		program := programs[leg.input]
		account, err := txbuilder.FindAssociatedTokenAddress(user, leg.input, program)
		if err != nil {
			return nil, err
		}
		op.Cleanup = &core.Cleanup{Account: account, TokenProgram: program}
	}
	return op, nil
}
