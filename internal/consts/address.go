package consts

import "jito-bundler-sol/internal/pkg/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	//  Programs
	SystemProgramStr          = "11111111111111111111111111111111"
	TokenProgramStr           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	TokenProgram2022Str       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramStr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramIdStr = "ComputeBudget111111111111111111111111111111"
	AddressLookupTableProgStr = "AddressLookupTab1e1111111111111111111111111"

	// 聚合器与托管合约
	JupiterProgramStr       = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	DelegateVaultProgramStr = "frnxh6RXdbpvTbhQ8yRtEbLNnXKmbGEqwfwMpZaBRw9"

	// 常用 mint
	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMintStr = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// JitoTipAccountStrs mainnet 的 8 个 Jito tip 账户
var JitoTipAccountStrs = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

var (
	// 特殊语义地址
	NativeSOLMint = types.Pubkey{} // 原生 SOL（非 SPL）

	// Programs
	SystemProgram          = types.PubkeyFromBase58(SystemProgramStr)
	TokenProgram           = types.PubkeyFromBase58(TokenProgramStr)
	TokenProgram2022       = types.PubkeyFromBase58(TokenProgram2022Str)
	AssociatedTokenProgram = types.PubkeyFromBase58(AssociatedTokenProgramStr)
	ComputeBudgetProgram   = types.PubkeyFromBase58(ComputeBudgetProgramIdStr)
	AddressLookupTableProg = types.PubkeyFromBase58(AddressLookupTableProgStr)
	JupiterProgram         = types.PubkeyFromBase58(JupiterProgramStr)
	DelegateVaultProgram   = types.PubkeyFromBase58(DelegateVaultProgramStr)

	WSOLMint = types.PubkeyFromBase58(WSOLMintStr)
	USDCMint = types.PubkeyFromBase58(USDCMintStr)
	USDTMint = types.PubkeyFromBase58(USDTMintStr)

	JitoTipAccounts = types.PubkeysFromBase58(JitoTipAccountStrs)
)

// IsNativeMint 原生 SOL 与 WSOL 均视为原生资产（无需 close 账户，资金转账走 system transfer）
func IsNativeMint(mint types.Pubkey) bool {
	return mint == NativeSOLMint || mint == WSOLMint
}
