package txbuilder

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"jito-bundler-sol/internal/logic/core"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"
)

// Blockhash 表示一次性的新鲜度令牌
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// BlockhashProvider 提供最新 blockhash，一次运行只调用一次
type BlockhashProvider interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
}

// StaticBlockhash 返回全 0 的占位 blockhash，只用于离线估算，产出的交易无法上链
type StaticBlockhash struct{}

func (StaticBlockhash) LatestBlockhash(context.Context) (Blockhash, error) {
	return Blockhash{Hash: dummyBlockhash}, nil
}

// Assembler 将封箱后的 batch 编码为 wire 交易
type Assembler struct {
	estimator *Estimator
	signer    Signer
	blockhash BlockhashProvider
}

// NewAssembler signer 可为空，此时输出带占位签名的待签交易
func NewAssembler(estimator *Estimator, signer Signer, blockhash BlockhashProvider) *Assembler {
	return &Assembler{estimator: estimator, signer: signer, blockhash: blockhash}
}

// AssembleAll 获取一次 blockhash，按顺序组装全部 batch
func (a *Assembler) AssembleAll(ctx context.Context, batches []*core.Batch) (*core.Bundle, error) {
	bh, err := a.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBlockhash, err, "fetch latest blockhash failed")
	}
	if _, err := types.HashFromBase58(bh.Hash); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBlockhash, err, "invalid blockhash "+bh.Hash)
	}
	logger.Infof("[Assembler] 使用 blockhash: %s (lastValidBlockHeight=%d)", bh.Hash, bh.LastValidBlockHeight)

	p := a.estimator.Params()
	bundle := &core.Bundle{
		Blockhash:    bh.Hash,
		TipAccount:   p.TipAccount,
		TipLamports:  p.TipLamports,
		Transactions: make([]*core.Transaction, 0, len(batches)),
	}
	for _, batch := range batches {
		tx, err := a.Assemble(batch, bh.Hash)
		if err != nil {
			return nil, err
		}
		bundle.Transactions = append(bundle.Transactions, tx)
	}
	return bundle, nil
}

// Assemble 组装单个 batch，并复核编码长度
func (a *Assembler) Assemble(batch *core.Batch, blockhash string) (*core.Transaction, error) {
	p := a.estimator.Params()
	ixs, err := composeInstructions(&p, batch.Operations, batch.Flags)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "compose instructions failed",
			xerrors.WithStage(xerrors.StageAssembly),
			xerrors.WithMetadata(xerrors.MetaBatchIndex, batch.Index))
	}
	msg, err := compileMessage(&p, ixs, batch.Tables, blockhash)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "compile message failed",
			xerrors.WithStage(xerrors.StageAssembly),
			xerrors.WithMetadata(xerrors.MetaBatchIndex, batch.Index))
	}
	raw, sig, err := serialize(msg, a.signer)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "serialize transaction failed",
			xerrors.WithStage(xerrors.StageAssembly),
			xerrors.WithMetadata(xerrors.MetaBatchIndex, batch.Index))
	}

	size := sizeOf(raw)
	limits := a.estimator.Limits()
	if !limits.allows(size) {
		// 估算与编码不一致属于完整性错误，整次运行必须中止
		logger.Errorf("[Assembler] 编码长度超限: batch=%d encoded=%d raw=%d ceiling=%d estimated=%d flags=%+v ops=%s",
			batch.Index, size.Encoded, size.Raw, limits.Ceiling, batch.Size, batch.Flags, describeOps(batch))
		return nil, xerrors.New(xerrors.CodeEncoderDrift, "assembled transaction exceeds ceiling",
			xerrors.WithMetadata(xerrors.MetaBatchIndex, batch.Index),
			xerrors.WithMetadata(xerrors.MetaSize, size.Encoded),
			xerrors.WithMetadata(xerrors.MetaLimit, limits.Ceiling))
	}
	if batch.Size > 0 && batch.Size != size.Encoded {
		logger.Warnf("[Assembler] 估算长度与实际不一致: batch=%d estimated=%d actual=%d", batch.Index, batch.Size, size.Encoded)
	}

	return &core.Transaction{
		Index:       batch.Index,
		Wire:        base64.StdEncoding.EncodeToString(raw),
		RawSize:     size.Raw,
		EncodedSize: size.Encoded,
		Signature:   sig,
		Flags:       batch.Flags,
	}, nil
}

func describeOps(batch *core.Batch) string {
	var b strings.Builder
	for i, op := range batch.Operations {
		if i > 0 {
			b.WriteString("; ")
		}
		opIndex := i
		if i < len(batch.OpIndexes) {
			opIndex = batch.OpIndexes[i]
		}
		fmt.Fprintf(&b, "#%d %s->%s ixs=%d tables=%d",
			opIndex, op.Unit.InputMint, op.Unit.OutputMint, len(op.Instructions), len(op.LookupTableIDs))
	}
	return b.String()
}
