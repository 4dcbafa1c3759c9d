package txbuilder

import (
	"jito-bundler-sol/internal/consts"

	solTypes "github.com/blocto/solana-go-sdk/types"
	"github.com/near/borsh-go"
)

// ComputeBudgetInstruction 的 borsh 枚举序号
const (
	computeBudgetSetUnitLimit uint8 = 2
	computeBudgetSetUnitPrice uint8 = 3
)

type setComputeUnitLimitArgs struct {
	Instruction uint8
	Units       uint32
}

type setComputeUnitPriceArgs struct {
	Instruction   uint8
	MicroLamports uint64
}

// SetComputeUnitLimit 构造 compute budget 的 CU 上限指令
func SetComputeUnitLimit(units uint32) (solTypes.Instruction, error) {
	data, err := borsh.Serialize(setComputeUnitLimitArgs{
		Instruction: computeBudgetSetUnitLimit,
		Units:       units,
	})
	if err != nil {
		return solTypes.Instruction{}, err
	}
	return solTypes.Instruction{
		ProgramID: consts.ComputeBudgetProgram.ToCommon(),
		Data:      data,
	}, nil
}

// SetComputeUnitPrice 构造 compute budget 的优先费指令（单位 micro-lamports / CU）
func SetComputeUnitPrice(microLamports uint64) (solTypes.Instruction, error) {
	data, err := borsh.Serialize(setComputeUnitPriceArgs{
		Instruction:   computeBudgetSetUnitPrice,
		MicroLamports: microLamports,
	})
	if err != nil {
		return solTypes.Instruction{}, err
	}
	return solTypes.Instruction{
		ProgramID: consts.ComputeBudgetProgram.ToCommon(),
		Data:      data,
	}, nil
}
