package opsource

import (
	"crypto/sha256"
	"fmt"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/common"
	solTypes "github.com/blocto/solana-go-sdk/types"
	"github.com/near/borsh-go"
)

var jupSwapDiscriminator = anchorDiscriminator("jup_swap")

func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

type jupSwapArgs struct {
	Data []byte
}

// VaultSwap 一次托管 swap 涉及的地址
type VaultSwap struct {
	Signer            types.Pubkey
	OrderID           types.Pubkey // 订单 id，创建订单时生成
	InputMint         types.Pubkey
	InputMintProgram  types.Pubkey
	OutputMint        types.Pubkey
	OutputMintProgram types.Pubkey
}

// VaultAccounts 由 VaultSwap 推导出的 PDA
type VaultAccounts struct {
	Manager    types.Pubkey
	Order      types.Pubkey
	OrderVault types.Pubkey
	TokenVault types.Pubkey
}

// VaultWrapper 把 Jupiter swap 指令包装为托管合约的 jup_swap，由 manager PDA 代签
type VaultWrapper struct {
	program types.Pubkey
	project types.Pubkey
}

func NewVaultWrapper(c config.VaultConfig) (*VaultWrapper, error) {
	program := consts.DelegateVaultProgram
	if c.Program != "" {
		p, err := types.TryPubkeyFromBase58(c.Program)
		if err != nil {
			return nil, fmt.Errorf("vault program: %w", err)
		}
		program = p
	}
	project, err := types.TryPubkeyFromBase58(c.Project)
	if err != nil {
		return nil, fmt.Errorf("vault project: %w", err)
	}
	return &VaultWrapper{program: program, project: project}, nil
}

func (v *VaultWrapper) pda(seeds ...[]byte) (types.Pubkey, error) {
	addr, _, err := common.FindProgramAddress(seeds, v.program.ToCommon())
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromCommon(addr), nil
}

// Accounts 推导 manager / order / order_vault / token_vault
func (v *VaultWrapper) Accounts(s VaultSwap) (VaultAccounts, error) {
	var out VaultAccounts
	var err error
	if out.Manager, err = v.pda([]byte("manager"), v.project[:], s.Signer[:]); err != nil {
		return out, fmt.Errorf("manager pda: %w", err)
	}
	if out.Order, err = v.pda([]byte("order"), out.Manager[:], s.OrderID[:]); err != nil {
		return out, fmt.Errorf("order pda: %w", err)
	}
	if out.OrderVault, err = v.pda([]byte("order_vault"), s.Signer[:], out.Manager[:], out.Order[:], s.InputMint[:]); err != nil {
		return out, fmt.Errorf("order vault pda: %w", err)
	}
	if out.TokenVault, err = v.pda([]byte("token_vault"), s.Signer[:], out.Manager[:], out.Order[:], s.OutputMint[:]); err != nil {
		return out, fmt.Errorf("token vault pda: %w", err)
	}
	return out, nil
}

// Wrap 生成 jup_swap 指令。Jupiter 的账户中，manager 的 ATA 换成对应的 vault，
// signer 换成 manager，并全部降为非签名账户（合约内由 manager PDA 签名）。
func (v *VaultWrapper) Wrap(s VaultSwap, acc VaultAccounts, swap solTypes.Instruction) (solTypes.Instruction, error) {
	inputAta, err := txbuilder.FindAssociatedTokenAddress(acc.Manager, s.InputMint, s.InputMintProgram)
	if err != nil {
		return solTypes.Instruction{}, err
	}
	outputAta, err := txbuilder.FindAssociatedTokenAddress(acc.Manager, s.OutputMint, s.OutputMintProgram)
	if err != nil {
		return solTypes.Instruction{}, err
	}

	body, err := borsh.Serialize(jupSwapArgs{Data: swap.Data})
	if err != nil {
		return solTypes.Instruction{}, fmt.Errorf("serialize jup_swap args: %w", err)
	}
	data := make([]byte, 0, len(jupSwapDiscriminator)+len(body))
	data = append(data, jupSwapDiscriminator[:]...)
	data = append(data, body...)

	outputProgram := s.OutputMintProgram
	if outputProgram.IsZero() {
		outputProgram = consts.TokenProgram
	}
	metas := []solTypes.AccountMeta{
		{PubKey: s.Signer.ToCommon(), IsSigner: true, IsWritable: true},
		{PubKey: s.OrderID.ToCommon()},
		{PubKey: acc.Order.ToCommon()},
		{PubKey: acc.Manager.ToCommon()},
		{PubKey: acc.OrderVault.ToCommon(), IsWritable: true},
		{PubKey: s.OutputMint.ToCommon()},
		{PubKey: outputProgram.ToCommon()},
		{PubKey: acc.TokenVault.ToCommon(), IsWritable: true},
		{PubKey: consts.JupiterProgram.ToCommon()},
		{PubKey: consts.SystemProgram.ToCommon()},
	}
	for _, m := range swap.Accounts {
		pk := types.PubkeyFromCommon(m.PubKey)
		switch pk {
		case inputAta:
			pk = acc.OrderVault
		case outputAta:
			pk = acc.TokenVault
		case s.Signer:
			pk = acc.Manager
		}
		metas = append(metas, solTypes.AccountMeta{PubKey: pk.ToCommon(), IsWritable: m.IsWritable})
	}

	return solTypes.Instruction{ProgramID: v.program.ToCommon(), Accounts: metas, Data: data}, nil
}
