package packer

import (
	"context"
	"errors"
	"testing"

	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/logic/txbuilder"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/common"
	solTypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// weightSizer 以 op.Unit.InAmount 作为操作大小，首末标记与 cleanup 额外加权
type weightSizer struct {
	ceiling int
	first   int
	last    int
	cleanup int
	calls   int
}

func (s *weightSizer) CanFit(ops []*core.Operation, tables core.LookupTableSet, flags core.PositionFlags) (bool, txbuilder.Size, error) {
	s.calls++
	size := 0
	for _, op := range ops {
		size += int(op.Unit.InAmount)
	}
	if flags.IsFirst {
		size += s.first
	}
	if flags.IsLast {
		size += s.last
	}
	size += s.cleanup * flags.CleanupCount()
	return size <= s.ceiling, txbuilder.Size{Raw: size, Encoded: size}, nil
}

type mapResolver struct {
	tables map[types.Pubkey][]types.Pubkey
	err    error
}

func (r *mapResolver) Resolve(_ context.Context, ids []types.Pubkey) (core.LookupTableSet, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := core.LookupTableSet{}
	for _, id := range ids {
		out[id] = r.tables[id]
	}
	return out, nil
}

func weightedOp(weight uint64, cleanup bool, tables ...types.Pubkey) *core.Operation {
	op := &core.Operation{
		Instructions: []solTypes.Instruction{{
			ProgramID: common.PublicKey{9},
			Accounts:  []solTypes.AccountMeta{{PubKey: common.PublicKey{byte(weight)}, IsWritable: true}},
			Data:      []byte{byte(weight)},
		}},
		LookupTableIDs: tables,
		Unit:           core.SwapUnit{InAmount: weight, OutAmount: weight * 2},
	}
	if cleanup {
		op.Cleanup = &core.Cleanup{Account: types.Pubkey{byte(weight), 1}, TokenProgram: types.Pubkey{2}}
	}
	return op
}

func opIndexes(res *PackResult) [][]int {
	out := make([][]int, 0, len(res.Batches))
	for _, b := range res.Batches {
		out = append(out, b.OpIndexes)
	}
	return out
}

func TestPack_Empty(t *testing.T) {
	p := NewPacker(&weightSizer{ceiling: 100}, &mapResolver{}, 0)
	res, err := p.Pack(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Batches)
	assert.Empty(t, res.Groups)
}

func TestPack_SimpleOverflow(t *testing.T) {
	sizer := &weightSizer{ceiling: 100, last: 10}
	p := NewPacker(sizer, &mapResolver{}, 0)

	ops := []*core.Operation{weightedOp(40, false), weightedOp(41, false), weightedOp(42, false)}
	res, err := p.Pack(context.Background(), ops)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1}, {2}}, opIndexes(res))
	assert.True(t, res.Batches[0].Flags.IsFirst)
	assert.False(t, res.Batches[0].Flags.IsLast)
	assert.False(t, res.Batches[1].Flags.IsFirst)
	assert.True(t, res.Batches[1].Flags.IsLast)
	assert.Equal(t, 81, res.Batches[0].Size)
	assert.Equal(t, 52, res.Batches[1].Size)

	require.Len(t, res.Groups, 2)
	assert.Equal(t, uint64(42), res.Groups[1][0].InAmount)
	assert.Len(t, res.Operations(), 3)
	for _, b := range res.Batches {
		assert.True(t, b.Sealed())
	}
}

func TestPack_SingleBatchIsFirstAndLast(t *testing.T) {
	p := NewPacker(&weightSizer{ceiling: 100, first: 5, last: 5}, &mapResolver{}, 0)
	res, err := p.Pack(context.Background(), []*core.Operation{weightedOp(10, false), weightedOp(10, false)})
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)
	assert.True(t, res.Batches[0].Flags.IsFirst)
	assert.True(t, res.Batches[0].Flags.IsLast)
	assert.Equal(t, 30, res.Batches[0].Size)
}

func TestPack_OversizedOperation(t *testing.T) {
	p := NewPacker(&weightSizer{ceiling: 100}, &mapResolver{}, 0)
	ops := []*core.Operation{weightedOp(10, false), weightedOp(200, false)}
	_, err := p.Pack(context.Background(), ops)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCapacity, xerrors.CodeOf(err))

	xe, ok := xerrors.From(err)
	require.True(t, ok)
	idx, ok := xe.Meta(xerrors.MetaOpIndex)
	require.True(t, ok)
	assert.Equal(t, "1", idx)
	assert.Equal(t, xerrors.StagePacking, xerrors.StageOf(err))
}

func TestPack_FirstOperationOversized(t *testing.T) {
	p := NewPacker(&weightSizer{ceiling: 100, first: 20}, &mapResolver{}, 0)
	_, err := p.Pack(context.Background(), []*core.Operation{weightedOp(90, false)})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCapacity, xerrors.CodeOf(err))
}

func TestPack_CompletenessAndOrder(t *testing.T) {
	sizer := &weightSizer{ceiling: 100, first: 7, last: 9, cleanup: 3}
	p := NewPacker(sizer, &mapResolver{}, 0)

	weights := []uint64{30, 55, 12, 70, 5, 5, 5, 60, 33, 21, 80, 1}
	ops := make([]*core.Operation, len(weights))
	for i, w := range weights {
		ops[i] = weightedOp(w, i%3 == 0)
	}
	res, err := p.Pack(context.Background(), ops)
	require.NoError(t, err)

	next := 0
	firsts, lasts := 0, 0
	for bi, b := range res.Batches {
		assert.Equal(t, bi, b.Index)
		assert.NotEmpty(t, b.Operations)
		for j, idx := range b.OpIndexes {
			assert.Equal(t, next, idx, "ops must stay in input order")
			assert.Same(t, ops[idx], b.Operations[j])
			next++
		}
		if b.Flags.IsFirst {
			firsts++
			assert.Equal(t, 0, bi)
		}
		if b.Flags.IsLast {
			lasts++
			assert.Equal(t, len(res.Batches)-1, bi)
		}

		cleanups := 0
		for _, op := range b.Operations {
			if op.NeedsCleanup() {
				cleanups++
			}
		}
		assert.Equal(t, cleanups, b.Flags.CleanupCount())

		ok, _, err := sizer.CanFit(b.Operations, b.Tables, b.Flags)
		require.NoError(t, err)
		assert.True(t, ok, "batch %d must fit with final flags", bi)
	}
	assert.Equal(t, len(ops), next)
	assert.Equal(t, 1, firsts)
	assert.Equal(t, 1, lasts)
}

func TestPack_CleanupCountsAffectFit(t *testing.T) {
	// 两个 40 的操作本可放下，但各带一个 cleanup(+15) 后超出
	sizer := &weightSizer{ceiling: 100, cleanup: 15}
	p := NewPacker(sizer, &mapResolver{}, 0)
	res, err := p.Pack(context.Background(), []*core.Operation{weightedOp(40, true), weightedOp(40, true)})
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)
	assert.Equal(t, 1, res.Batches[0].Flags.CleanupCount())
	assert.Equal(t, 1, res.Batches[1].Flags.CleanupCount())

	// 无 cleanup 时可以合并
	res, err = p.Pack(context.Background(), []*core.Operation{weightedOp(40, false), weightedOp(40, false)})
	require.NoError(t, err)
	assert.Len(t, res.Batches, 1)
}

func TestPack_TablesMergedPerBatch(t *testing.T) {
	t1, t2 := types.Pubkey{1, 1}, types.Pubkey{2, 2}
	resolver := &mapResolver{tables: map[types.Pubkey][]types.Pubkey{
		t1: {{10}, {11}},
		t2: {{20}},
	}}
	p := NewPacker(&weightSizer{ceiling: 100}, resolver, 0)
	ops := []*core.Operation{weightedOp(30, false, t1), weightedOp(30, false, t1, t2), weightedOp(60, false, t2)}
	res, err := p.Pack(context.Background(), ops)
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)
	assert.ElementsMatch(t, []types.Pubkey{t1, t2}, res.Batches[0].Tables.Keys())
	assert.Equal(t, []types.Pubkey{t2}, res.Batches[1].Tables.Keys())
}

func TestPack_ResolverErrorKeepsCode(t *testing.T) {
	resolver := &mapResolver{err: xerrors.New(xerrors.CodeLookupTable, "table missing")}
	p := NewPacker(&weightSizer{ceiling: 100}, resolver, 0)
	_, err := p.Pack(context.Background(), []*core.Operation{weightedOp(1, false, types.Pubkey{1})})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeLookupTable, xerrors.CodeOf(err))

	resolver.err = errors.New("boom")
	_, err = p.Pack(context.Background(), []*core.Operation{weightedOp(1, false, types.Pubkey{1})})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUnknown, xerrors.CodeOf(err))
}

func TestPack_MalformedOperation(t *testing.T) {
	p := NewPacker(&weightSizer{ceiling: 100}, &mapResolver{}, 0)
	_, err := p.Pack(context.Background(), []*core.Operation{weightedOp(1, false), {}})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeMalformedOperation, xerrors.CodeOf(err))
}

func TestPack_MaxBatches(t *testing.T) {
	p := NewPacker(&weightSizer{ceiling: 100}, &mapResolver{}, 2)
	ops := []*core.Operation{weightedOp(60, false), weightedOp(60, false), weightedOp(60, false)}
	_, err := p.Pack(context.Background(), ops)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeBundleTooLarge, xerrors.CodeOf(err))

	res, err := p.Pack(context.Background(), ops[:2])
	require.NoError(t, err)
	assert.Len(t, res.Batches, 2)
}

func TestFinalize_PeelsTrailingOperation(t *testing.T) {
	// 手工构造一个未按最终标记校验过的 batch：加上 last 权重后超限
	sizer := &weightSizer{ceiling: 100, last: 30}
	p := NewPacker(sizer, &mapResolver{}, 0)

	ops := []*core.Operation{weightedOp(40, false), weightedOp(20, true), weightedOp(30, false)}
	b := core.NewBatch(0)
	b.Operations = ops
	b.OpIndexes = []int{0, 1, 2}
	b.Flags = core.PositionFlags{}.WithCleanup(ops[1].Cleanup)
	b.Seal()

	tables := make([]core.LookupTableSet, len(ops))
	batches, err := p.finalize([]*core.Batch{b}, tables)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, []int{0, 1}, batches[0].OpIndexes)
	assert.Equal(t, []int{2}, batches[1].OpIndexes)
	assert.True(t, batches[0].Flags.IsFirst)
	assert.False(t, batches[0].Flags.IsLast)
	assert.True(t, batches[1].Flags.IsLast)
	assert.Equal(t, 1, batches[0].Flags.CleanupCount())
	assert.Equal(t, 0, batches[1].Flags.CleanupCount())
	assert.Equal(t, 1, batches[1].Index)
}

func TestFinalize_SingleOperationCannotBePeeled(t *testing.T) {
	sizer := &weightSizer{ceiling: 100, first: 50}
	p := NewPacker(sizer, &mapResolver{}, 0)

	b := core.NewBatch(0)
	b.Operations = []*core.Operation{weightedOp(80, false)}
	b.OpIndexes = []int{0}
	_, err := p.finalize([]*core.Batch{b}, make([]core.LookupTableSet, 1))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCapacity, xerrors.CodeOf(err))
}

func TestPack_WithRealEstimator(t *testing.T) {
	payer := common.PublicKey{200}
	est := txbuilder.NewEstimator(txbuilder.Params{
		FeePayer:         types.PubkeyFromCommon(payer),
		ComputeUnitLimit: 200_000,
		ComputeUnitPrice: 5_000,
		TipAccount:       types.Pubkey{201},
		TipLamports:      1_000,
	}, txbuilder.Limits{Ceiling: 1614, MaxRawSize: 1232})
	p := NewPacker(est, &mapResolver{}, 0)

	ops := make([]*core.Operation, 0, 6)
	for i := 0; i < 6; i++ {
		data := make([]byte, 300)
		ops = append(ops, &core.Operation{
			Instructions: []solTypes.Instruction{{
				ProgramID: common.PublicKey{99},
				Accounts: []solTypes.AccountMeta{
					{PubKey: payer, IsSigner: true, IsWritable: true},
					{PubKey: common.PublicKey{byte(i + 1), 7}, IsWritable: true},
				},
				Data: data,
			}},
			Unit: core.SwapUnit{InAmount: uint64(i)},
		})
	}
	res, err := p.Pack(context.Background(), ops)
	require.NoError(t, err)
	require.Greater(t, len(res.Batches), 1)

	total := 0
	for _, b := range res.Batches {
		ok, size, err := est.CanFit(b.Operations, b.Tables, b.Flags)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, size.Encoded, b.Size)
		total += b.Len()
	}
	assert.Equal(t, len(ops), total)
}
