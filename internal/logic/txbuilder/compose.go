package txbuilder

import (
	"encoding/base64"
	"fmt"
	"runtime/debug"

	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/common"
	solTypes "github.com/blocto/solana-go-sdk/types"
)

const signatureSize = 64

// dummyBlockhash 估算时使用，32 字节全 0，不影响编码长度
const dummyBlockhash = "11111111111111111111111111111111"

// Params 一次运行内所有交易共享的辅助上下文。估算与组装必须使用同一份，
// 否则估算结果与最终编码不一致。
type Params struct {
	FeePayer         types.Pubkey
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	Funding          *Funding     // 为空则第一笔交易不附带资金划转
	TipAccount       types.Pubkey // 为空则最后一笔交易不附带 tip
	TipLamports      uint64
}

// Size 表示一笔交易的编码长度
type Size struct {
	Raw     int // wire 字节数
	Encoded int // base64 长度
}

// Signer 交易签名者
type Signer interface {
	PublicKey() common.PublicKey
	Sign(message []byte) []byte
}

// AccountSigner 将 SDK 的 Account 适配为 Signer
type AccountSigner struct {
	Account solTypes.Account
}

func (s AccountSigner) PublicKey() common.PublicKey {
	return s.Account.PublicKey
}

func (s AccountSigner) Sign(message []byte) []byte {
	return s.Account.Sign(message)
}

// composeInstructions 按固定顺序拼装指令：
// CU 上限、CU 价格、batch 内操作（liquidation close 紧跟对应操作）、首笔资金划转、末笔 tip
func composeInstructions(p *Params, ops []*core.Operation, flags core.PositionFlags) ([]solTypes.Instruction, error) {
	n := 2 + flags.CleanupCount() + 2
	for _, op := range ops {
		n += len(op.Instructions)
	}
	ixs := make([]solTypes.Instruction, 0, n)

	limitIx, err := SetComputeUnitLimit(p.ComputeUnitLimit)
	if err != nil {
		return nil, fmt.Errorf("compute unit limit: %w", err)
	}
	priceIx, err := SetComputeUnitPrice(p.ComputeUnitPrice)
	if err != nil {
		return nil, fmt.Errorf("compute unit price: %w", err)
	}
	ixs = append(ixs, limitIx, priceIx)

	// flags.Cleanups 与带 Cleanup 的操作按顺序一一对应，close 紧跟在对应操作之后
	next := 0
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ixs = append(ixs, op.Instructions...)
		if op.NeedsCleanup() && next < len(flags.Cleanups) {
			ixs = append(ixs, cleanupInstruction(p.FeePayer, flags.Cleanups[next]))
			next++
		}
	}
	for _, c := range flags.Cleanups[next:] {
		ixs = append(ixs, cleanupInstruction(p.FeePayer, c))
	}

	if flags.IsFirst && p.Funding != nil {
		ix, err := fundingInstruction(p.FeePayer, p.Funding)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, ix)
	}

	if flags.IsLast && !p.TipAccount.IsZero() {
		ixs = append(ixs, tipInstruction(p.FeePayer, p.TipAccount, p.TipLamports))
	}
	return ixs, nil
}

// compileMessage 编译 v0 消息，通过 lookup table 压缩账户引用
func compileMessage(p *Params, ixs []solTypes.Instruction, tables core.LookupTableSet, blockhash string) (msg solTypes.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[TxBuilder] compile message panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("compile message panic: %v", r)
		}
	}()

	msg = solTypes.NewMessage(solTypes.NewMessageParam{
		FeePayer:                   p.FeePayer.ToCommon(),
		Instructions:               ixs,
		RecentBlockhash:            blockhash,
		AddressLookupTableAccounts: tables.ToAccounts(),
	})
	// 没有 lookup table 时 SDK 可能生成 legacy 消息，统一使用 v0
	msg.Version = solTypes.MessageVersionV0
	return msg, nil
}

// serialize 序列化为 wire 格式。signer 为空时所有签名位填 64 字节 0
func serialize(msg solTypes.Message, signer Signer) ([]byte, string, error) {
	numSigners := int(msg.Header.NumRequireSignatures)
	if numSigners == 0 {
		return nil, "", fmt.Errorf("message requires no signature")
	}
	sigs := make([]solTypes.Signature, numSigners)
	for i := range sigs {
		sigs[i] = make([]byte, signatureSize)
	}

	var firstSig string
	if signer != nil {
		msgBytes, err := msg.Serialize()
		if err != nil {
			return nil, "", fmt.Errorf("serialize message: %w", err)
		}
		signed := false
		for i := 0; i < numSigners && i < len(msg.Accounts); i++ {
			if msg.Accounts[i] == signer.PublicKey() {
				sigs[i] = signer.Sign(msgBytes)
				signed = true
				break
			}
		}
		if !signed {
			return nil, "", fmt.Errorf("signer %s is not a required signer", signer.PublicKey().ToBase58())
		}
		if sig, err := types.SignatureFromBytes(sigs[0]); err == nil {
			firstSig = sig.String()
		}
	}

	tx := solTypes.Transaction{Signatures: sigs, Message: msg}
	raw, err := tx.Serialize()
	if err != nil {
		return nil, "", fmt.Errorf("serialize transaction: %w", err)
	}
	return raw, firstSig, nil
}

func sizeOf(raw []byte) Size {
	return Size{Raw: len(raw), Encoded: base64.StdEncoding.EncodedLen(len(raw))}
}
