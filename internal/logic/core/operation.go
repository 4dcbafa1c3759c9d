package core

import (
	"fmt"

	"jito-bundler-sol/internal/pkg/types"

	solTypes "github.com/blocto/solana-go-sdk/types"
)

// SwapUnit 表示一个逻辑单元（通常是一次 swap），用于向调用方报告各 batch 包含了哪些单元。
type SwapUnit struct {
	InputMint  types.Pubkey // 输入 token
	OutputMint types.Pubkey // 输出 token
	InAmount   uint64       // 输入数量（最小单位）
	OutAmount  uint64       // 报价输出数量（最小单位）
	Label      string       // 可选的展示名，如路由标签
}

// Cleanup 表示 liquidation 场景下 swap 完成后需要关闭的 token 账户。
// 原生 SOL 没有对应的 token 账户，因此不会产生 Cleanup。
type Cleanup struct {
	Account      types.Pubkey // 待关闭的 token 账户
	TokenProgram types.Pubkey // 账户所属 token 程序（Token / Token-2022）
}

// Operation 表示上游（如 swap 报价服务）产出的一个原子操作：一组必须放在同一笔交易中的指令，
// 以及这些指令引用的 address lookup table。构造后只读。
type Operation struct {
	Instructions   []solTypes.Instruction // 按顺序执行的指令
	LookupTableIDs []types.Pubkey         // 指令涉及的 lookup table 地址
	Unit           SwapUnit               // 对应的逻辑单元
	Cleanup        *Cleanup               // 非空表示需要在同一 batch 内关闭 token 账户
}

// NeedsCleanup 是否需要追加 close-account 指令
func (op *Operation) NeedsCleanup() bool {
	return op.Cleanup != nil
}

// Validate 检查指令的基本完整性，避免把残缺数据带进编码阶段
func (op *Operation) Validate() error {
	if op == nil {
		return fmt.Errorf("nil operation")
	}
	if len(op.Instructions) == 0 {
		return fmt.Errorf("operation has no instructions")
	}
	for i, ix := range op.Instructions {
		// 全 0 的 ProgramID 就是 system program，不视为缺失；只有签名账户不允许为全 0
		for j, acc := range ix.Accounts {
			if acc.IsSigner && types.PubkeyFromCommon(acc.PubKey).IsZero() {
				return fmt.Errorf("instruction %d account %d: zero signer", i, j)
			}
		}
	}
	if op.Cleanup != nil && op.Cleanup.Account.IsZero() {
		return fmt.Errorf("cleanup account is empty")
	}
	return nil
}
