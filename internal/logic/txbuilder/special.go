package txbuilder

import (
	"fmt"

	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/program/token"
	solTypes "github.com/blocto/solana-go-sdk/types"
)

// Funding 第一笔交易附带的资金划转。
// Mint 为原生 SOL / WSOL 时走 system transfer，否则从付款人的 ATA 做 SPL transfer。
type Funding struct {
	Mint         types.Pubkey // 划转的资产
	TokenProgram types.Pubkey // SPL 资产所属 token 程序，为空默认 Token 程序
	Destination  types.Pubkey // SOL: 收款地址；SPL: 目标 token 账户
	Amount       uint64
}

// FindAssociatedTokenAddress 按 token 程序推导 ATA，兼容 Token-2022
func FindAssociatedTokenAddress(owner, mint, tokenProgram types.Pubkey) (types.Pubkey, error) {
	if tokenProgram.IsZero() {
		tokenProgram = consts.TokenProgram
	}
	addr, _, err := common.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		consts.AssociatedTokenProgram.ToCommon(),
	)
	if err != nil {
		return types.Pubkey{}, fmt.Errorf("find ata: owner=%s mint=%s: %w", owner, mint, err)
	}
	return types.PubkeyFromCommon(addr), nil
}

func fundingInstruction(payer types.Pubkey, f *Funding) (solTypes.Instruction, error) {
	if consts.IsNativeMint(f.Mint) {
		return system.Transfer(system.TransferParam{
			From:   payer.ToCommon(),
			To:     f.Destination.ToCommon(),
			Amount: f.Amount,
		}), nil
	}

	source, err := FindAssociatedTokenAddress(payer, f.Mint, f.TokenProgram)
	if err != nil {
		return solTypes.Instruction{}, err
	}
	ix := token.Transfer(token.TransferParam{
		From:    source.ToCommon(),
		To:      f.Destination.ToCommon(),
		Auth:    payer.ToCommon(),
		Signers: []common.PublicKey{},
		Amount:  f.Amount,
	})
	if !f.TokenProgram.IsZero() {
		ix.ProgramID = f.TokenProgram.ToCommon()
	}
	return ix, nil
}

func tipInstruction(payer, tipAccount types.Pubkey, lamports uint64) solTypes.Instruction {
	return system.Transfer(system.TransferParam{
		From:   payer.ToCommon(),
		To:     tipAccount.ToCommon(),
		Amount: lamports,
	})
}

// cleanupInstruction 关闭 token 账户，租金退回付款人
func cleanupInstruction(payer types.Pubkey, c core.Cleanup) solTypes.Instruction {
	ix := token.CloseAccount(token.CloseAccountParam{
		Account: c.Account.ToCommon(),
		Auth:    payer.ToCommon(),
		Signers: []common.PublicKey{},
		To:      payer.ToCommon(),
	})
	// close_account 在 Token 与 Token-2022 中布局一致，只需替换程序 ID
	if !c.TokenProgram.IsZero() {
		ix.ProgramID = c.TokenProgram.ToCommon()
	}
	return ix
}
