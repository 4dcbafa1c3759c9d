package packer

import (
	"context"

	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/logic/txbuilder"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"
)

// Sizer 判断候选 batch 是否放得下，由 txbuilder.Estimator 实现
type Sizer interface {
	CanFit(ops []*core.Operation, tables core.LookupTableSet, flags core.PositionFlags) (bool, txbuilder.Size, error)
}

// TableResolver 解析操作引用的 lookup table，需自带缓存
type TableResolver interface {
	Resolve(ctx context.Context, ids []types.Pubkey) (core.LookupTableSet, error)
}

// PackResult 打包结果
type PackResult struct {
	Batches []*core.Batch
	Groups  [][]core.SwapUnit // 与 Batches 一一对应，记录每个 batch 包含的逻辑单元
}

// Operations 按顺序拼接所有 batch 的操作
func (r *PackResult) Operations() []*core.Operation {
	var out []*core.Operation
	for _, b := range r.Batches {
		out = append(out, b.Operations...)
	}
	return out
}

// Packer 贪心、单遍、保持输入顺序的装箱器
type Packer struct {
	sizer      Sizer
	resolver   TableResolver
	maxBatches int // 0 表示不限制
}

func NewPacker(sizer Sizer, resolver TableResolver, maxBatches int) *Packer {
	return &Packer{sizer: sizer, resolver: resolver, maxBatches: maxBatches}
}

// Pack 将操作依次放入当前 batch，放不下时封箱并开启新 batch。
// 操作从不重排：首笔/末笔的特殊指令依赖输入顺序。
func (p *Packer) Pack(ctx context.Context, ops []*core.Operation) (*PackResult, error) {
	result := &PackResult{}
	if len(ops) == 0 {
		return result, nil
	}

	opTables := make([]core.LookupTableSet, len(ops))
	batches := make([]*core.Batch, 0, 4)
	cur := core.NewBatch(0)
	lastIdx := len(ops) - 1

	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "invalid operation",
				xerrors.WithMetadata(xerrors.MetaOpIndex, i))
		}

		tables, err := p.resolver.Resolve(ctx, op.LookupTableIDs)
		if err != nil {
			return nil, annotate(err, i)
		}
		opTables[i] = tables

		candOps := make([]*core.Operation, 0, cur.Len()+1)
		candOps = append(candOps, cur.Operations...)
		candOps = append(candOps, op)
		candTables := cur.Tables.Merge(tables)
		candFlags := core.PositionFlags{
			IsFirst:  len(batches) == 0,
			IsLast:   i == lastIdx,
			Cleanups: cur.Flags.Cleanups,
		}.WithCleanup(op.Cleanup)

		ok, size, err := p.sizer.CanFit(candOps, candTables, candFlags)
		if err != nil {
			return nil, annotate(err, i)
		}
		if ok {
			commit(cur, candOps, i, candTables, candFlags, size.Encoded)
			continue
		}

		if cur.IsEmpty() {
			return nil, capacityError(i, size)
		}

		// 当前 batch 已满，封箱后以该操作开启新 batch
		cur.Seal()
		batches = append(batches, cur)
		logger.Debugf("[Packer] batch %d 封箱: ops=%d size=%d", cur.Index, cur.Len(), cur.Size)

		cur = core.NewBatch(len(batches))
		seedFlags := core.PositionFlags{IsLast: i == lastIdx}.WithCleanup(op.Cleanup)
		ok, size, err = p.sizer.CanFit([]*core.Operation{op}, tables, seedFlags)
		if err != nil {
			return nil, annotate(err, i)
		}
		if !ok {
			return nil, capacityError(i, size)
		}
		commit(cur, []*core.Operation{op}, i, tables.Clone(), seedFlags, size.Encoded)
	}
	cur.Seal()
	batches = append(batches, cur)

	batches, err := p.finalize(batches, opTables)
	if err != nil {
		return nil, err
	}
	if p.maxBatches > 0 && len(batches) > p.maxBatches {
		return nil, xerrors.New(xerrors.CodeBundleTooLarge, "too many transactions for one bundle",
			xerrors.WithMetadata("batches", len(batches)),
			xerrors.WithMetadata(xerrors.MetaLimit, p.maxBatches))
	}

	result.Batches = batches
	result.Groups = make([][]core.SwapUnit, len(batches))
	for i, b := range batches {
		result.Groups[i] = b.Units()
	}
	logger.Infof("[Packer] 打包完成: ops=%d batches=%d", len(ops), len(batches))
	return result, nil
}

// finalize 按最终位置重新设置首末标记并复核长度。
// 标记会影响长度，某个 batch 复核失败时把它的末尾操作移到紧随其后的新 batch，直到全部放得下。
func (p *Packer) finalize(batches []*core.Batch, opTables []core.LookupTableSet) ([]*core.Batch, error) {
	for {
		assignPositions(batches)

		bad := -1
		for i, b := range batches {
			ok, size, err := p.sizer.CanFit(b.Operations, b.Tables, b.Flags)
			if err != nil {
				return nil, annotate(err, b.OpIndexes[0])
			}
			if !ok {
				bad = i
				break
			}
			b.Size = size.Encoded
		}
		if bad < 0 {
			return batches, nil
		}

		b := batches[bad]
		last := b.Len() - 1
		if last == 0 {
			return nil, capacityError(b.OpIndexes[0], txbuilder.Size{Encoded: b.Size})
		}
		logger.Warnf("[Packer] batch %d 按最终标记复核超限，移出末尾操作 #%d", bad, b.OpIndexes[last])

		moved := core.NewBatch(bad + 1)
		moved.Operations = []*core.Operation{b.Operations[last]}
		moved.OpIndexes = []int{b.OpIndexes[last]}
		b.Operations = b.Operations[:last:last]
		b.OpIndexes = b.OpIndexes[:last:last]
		rebuild(b, opTables)
		rebuild(moved, opTables)
		moved.Seal()

		batches = append(batches, nil)
		copy(batches[bad+2:], batches[bad+1:])
		batches[bad+1] = moved
	}
}

// assignPositions 按最终位置设置下标与首末标记
func assignPositions(batches []*core.Batch) {
	for i, b := range batches {
		b.Index = i
		b.Flags.IsFirst = i == 0
		b.Flags.IsLast = i == len(batches)-1
	}
}

// rebuild 根据 batch 当前的操作重新合并 lookup table 与 cleanup
func rebuild(b *core.Batch, opTables []core.LookupTableSet) {
	tables := core.LookupTableSet{}
	flags := core.PositionFlags{IsFirst: b.Flags.IsFirst, IsLast: b.Flags.IsLast}
	for i, op := range b.Operations {
		tables = tables.Merge(opTables[b.OpIndexes[i]])
		flags = flags.WithCleanup(op.Cleanup)
	}
	b.Tables = tables
	b.Flags = flags
	b.Size = 0
}

func commit(b *core.Batch, ops []*core.Operation, opIndex int, tables core.LookupTableSet, flags core.PositionFlags, size int) {
	b.Operations = ops
	b.OpIndexes = append(b.OpIndexes, opIndex)
	b.Tables = tables
	b.Flags = flags
	b.Size = size
}

func capacityError(opIndex int, size txbuilder.Size) error {
	logger.Errorf("[Packer] 单个操作超出交易容量: op=%d size=%d raw=%d", opIndex, size.Encoded, size.Raw)
	return xerrors.New(xerrors.CodeCapacity, "operation exceeds capacity",
		xerrors.WithMetadata(xerrors.MetaOpIndex, opIndex),
		xerrors.WithMetadata(xerrors.MetaSize, size.Encoded))
}

// annotate 给下游错误补充操作下标，已是统一错误时保留原错误码
func annotate(err error, opIndex int) error {
	if xe, ok := xerrors.From(err); ok {
		return xerrors.Wrap(xe.Code(), err, "packing failed",
			xerrors.WithStage(xerrors.StagePacking),
			xerrors.WithMetadata(xerrors.MetaOpIndex, opIndex))
	}
	return xerrors.Wrap(xerrors.CodeUnknown, err, "packing failed",
		xerrors.WithStage(xerrors.StagePacking),
		xerrors.WithMetadata(xerrors.MetaOpIndex, opIndex))
}
