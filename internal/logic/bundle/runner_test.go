package bundle

import (
	"context"
	"errors"
	"testing"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/logic/progress"
	"jito-bundler-sol/internal/logic/relay"
	"jito-bundler-sol/internal/logic/tip"
	"jito-bundler-sol/internal/logic/txbuilder"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/types"

	solTypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyResolver struct{}

func (emptyResolver) Resolve(context.Context, []types.Pubkey) (core.LookupTableSet, error) {
	return core.LookupTableSet{}, nil
}

type fixedTips struct {
	quote tip.Quote
	err   error
}

func (f fixedTips) Quote(context.Context) (tip.Quote, error) { return f.quote, f.err }

type memRecorder struct {
	records []progress.BundleRecord
}

func (m *memRecorder) Record(_ context.Context, rec *progress.BundleRecord) {
	m.records = append(m.records, *rec)
}

type memPublisher struct {
	keys   []types.Pubkey
	events []map[string]any
}

func (m *memPublisher) Publish(_ context.Context, key types.Pubkey, fields map[string]any) error {
	m.keys = append(m.keys, key)
	m.events = append(m.events, fields)
	return nil
}

func testKey(seed, n byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = seed ^ byte(i) ^ n
	}
	p[0], p[1] = seed, n
	return p
}

func swapOp(payer types.Pubkey, seed byte) *core.Operation {
	metas := []solTypes.AccountMeta{{PubKey: payer.ToCommon(), IsSigner: true, IsWritable: true}}
	for i := 0; i < 4; i++ {
		metas = append(metas, solTypes.AccountMeta{PubKey: testKey(seed, byte(i+1)).ToCommon(), IsWritable: true})
	}
	return &core.Operation{
		Instructions: []solTypes.Instruction{{ProgramID: testKey(250, 0).ToCommon(), Accounts: metas, Data: make([]byte, 24)}},
		Unit:         core.SwapUnit{InputMint: consts.WSOLMint, OutputMint: testKey(seed, 99), InAmount: uint64(seed) * 1000},
	}
}

type runnerFixture struct {
	signer    txbuilder.AccountSigner
	sender    *fakeSender
	querier   *fakeQuerier
	recorder  *memRecorder
	publisher *memPublisher
	runner    *Runner
}

func newRunnerFixture(sender *fakeSender, querier *fakeQuerier) *runnerFixture {
	f := &runnerFixture{
		signer:    txbuilder.AccountSigner{Account: solTypes.NewAccount()},
		sender:    sender,
		querier:   querier,
		recorder:  &memRecorder{},
		publisher: &memPublisher{},
	}
	clock := newFakeClock()
	f.runner = NewRunner(RunnerOptions{
		Pack: config.PackConfig{
			MaxEncodedSize:   consts.EncodedTxSizeLimit,
			SafetyMargin:     consts.DefaultSizeSafetyMargin,
			MaxRawSize:       consts.RawTxSizeLimit,
			ComputeUnitLimit: consts.DefaultComputeUnitLimit,
			ComputeUnitPrice: consts.DefaultComputeUnitPrice,
			MaxBundleTxs:     consts.MaxBundleTransactions,
		},
		Resolver:  emptyResolver{},
		Signer:    f.signer,
		Blockhash: txbuilder.StaticBlockhash{},
		Tips:      fixedTips{quote: tip.Quote{Account: consts.JitoTipAccounts[3], Lamports: 4200, FromFloor: true}},
		Submitter: NewSubmitter(sender, clock, 0),
		Confirmer: NewConfirmer(querier, clock, 2*time.Second, 60*time.Second),
		Recorder:  f.recorder,
		Publisher: f.publisher,
		Workers:   1,
	})
	return f
}

func (f *runnerFixture) payer() types.Pubkey {
	return types.PubkeyFromCommon(f.signer.PublicKey())
}

func (f *runnerFixture) plan(name string, n int) *Plan {
	ops := make([]*core.Operation, n)
	for i := range ops {
		ops[i] = swapOp(f.payer(), byte(i+1))
	}
	return &Plan{Name: name, Operations: ops}
}

func landedQuerier() *fakeQuerier {
	return &fakeQuerier{
		inflight: []func() (*relay.InflightStatusesResult, error){inflight("Pending", 0), inflight("Landed", 123)},
		detail: &relay.BundleStatusesResult{Value: []*relay.BundleStatusDetail{{
			BundleID: "b1", Transactions: []string{"sigA"}, Slot: 123, ConfirmationStatus: "finalized",
		}}},
	}
}

func TestRun_Landed(t *testing.T) {
	f := newRunnerFixture(&fakeSender{results: []sendResult{{id: ""}, {id: "b1"}}}, landedQuerier())

	res, err := f.runner.Run(context.Background(), f.plan("portfolio", 2))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "b1", res.BundleID)
	assert.Equal(t, core.BundleLanded, res.Status)
	assert.Equal(t, uint64(123), res.LandedSlot)
	assert.Equal(t, []string{"sigA"}, res.Signatures)
	assert.Equal(t, uint64(4200), res.TipLamports)
	assert.Equal(t, consts.JitoTipAccounts[3], res.TipAccount)
	require.NotEmpty(t, res.Transactions)
	assert.True(t, res.Transactions[len(res.Transactions)-1].Flags.IsLast)
	assert.Equal(t, 2, f.sender.calls)
	assert.Equal(t, 1, f.querier.detailCalls)

	// Pending 提交后记录一次，终态再记录一次
	require.Len(t, f.recorder.records, 2)
	assert.Equal(t, "Pending", f.recorder.records[0].Status)
	assert.Equal(t, "Landed", f.recorder.records[1].Status)
	assert.Equal(t, res.RunID, f.recorder.records[1].RunID)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, f.payer(), f.publisher.keys[0])
	assert.Equal(t, "Landed", f.publisher.events[0]["status"])
	assert.NotContains(t, f.publisher.events[0], "error")
}

func TestRun_Failed(t *testing.T) {
	q := &fakeQuerier{inflight: []func() (*relay.InflightStatusesResult, error){inflight("Failed", 0)}}
	f := newRunnerFixture(&fakeSender{results: []sendResult{{id: "b9"}}}, q)

	res, err := f.runner.Run(context.Background(), f.plan("liquidation", 1))
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeBundleFailed))
	assert.Equal(t, core.BundleFailed, res.Status)
	e, ok := xerrors.From(err)
	require.True(t, ok)
	runID, _ := e.Meta(xerrors.MetaRunID)
	bundleID, _ := e.Meta(xerrors.MetaBundleID)
	assert.Equal(t, res.RunID, runID)
	assert.Equal(t, "b9", bundleID)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, string(xerrors.CodeBundleFailed), f.publisher.events[0]["error_code"])
	assert.Equal(t, "Failed", f.recorder.records[len(f.recorder.records)-1].Status)
}

func TestRun_SubmissionFailureSkipsConfirmation(t *testing.T) {
	s := &fakeSender{results: []sendResult{{err: errors.New("rate limited")}, {err: errors.New("rate limited")}}}
	f := newRunnerFixture(s, landedQuerier())

	_, err := f.runner.Run(context.Background(), f.plan("p", 1))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeSubmission))
	assert.Equal(t, 0, f.querier.inflightCalls)
	assert.Empty(t, f.recorder.records)
	assert.Empty(t, f.publisher.events)
}

func TestRun_EmptyPlan(t *testing.T) {
	f := newRunnerFixture(&fakeSender{}, landedQuerier())
	_, err := f.runner.Run(context.Background(), &Plan{Name: "empty"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
	assert.Equal(t, 0, f.sender.calls)
}

func TestRun_TipQuoteError(t *testing.T) {
	f := newRunnerFixture(&fakeSender{}, landedQuerier())
	f.runner.opts.Tips = fixedTips{err: errors.New("tip accounts: connection refused")}
	_, err := f.runner.Run(context.Background(), f.plan("p", 1))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUpstream), "拉取失败不是配置错误")
	assert.Equal(t, xerrors.StageTip, xerrors.StageOf(err))
	assert.True(t, xerrors.IsRetryable(err))
	assert.ErrorContains(t, err, "connection refused")
	e, ok := xerrors.From(err)
	require.True(t, ok)
	_, ok = e.Meta(xerrors.MetaRunID)
	assert.True(t, ok)
	assert.Equal(t, 0, f.sender.calls)
}

func TestEstimate_Offline(t *testing.T) {
	f := newRunnerFixture(&fakeSender{}, landedQuerier())
	res, err := f.runner.Estimate(context.Background(), f.plan("p", 6))
	require.NoError(t, err)
	assert.Equal(t, 0, f.sender.calls)
	assert.Equal(t, consts.JitoTipAccounts[0], res.TipAccount)
	assert.Equal(t, uint64(consts.MinTipLamports), res.TipLamports)

	total := 0
	for i, b := range res.Batches {
		assert.Equal(t, i, b.Index)
		total += b.Ops
	}
	assert.Equal(t, 6, total)
	assert.Len(t, res.Transactions, len(res.Batches))
	for _, tx := range res.Transactions {
		assert.LessOrEqual(t, tx.EncodedSize, consts.EncodedTxSizeLimit-consts.DefaultSizeSafetyMargin)
		assert.NotEmpty(t, tx.Signature)
	}
	assert.True(t, res.Transactions[0].Flags.IsFirst)
}

func TestRunAll_PreservesOrder(t *testing.T) {
	f := newRunnerFixture(&fakeSender{results: []sendResult{{id: "b1"}, {id: "b2"}}}, landedQuerier())
	outcomes := f.runner.RunAll(context.Background(), []*Plan{f.plan("a", 1), {Name: "empty"}, f.plan("c", 1)})
	require.Len(t, outcomes, 3)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "a", outcomes[0].Result.Name)
	assert.Equal(t, "b1", outcomes[0].Result.BundleID)
	assert.True(t, xerrors.HasCode(outcomes[1].Err, xerrors.CodeInvalidArgument))
	require.NoError(t, outcomes[2].Err)
	assert.Equal(t, "c", outcomes[2].Result.Name)
	assert.Equal(t, "b2", outcomes[2].Result.BundleID)
}

func TestEstimate_WithoutSigner(t *testing.T) {
	f := newRunnerFixture(&fakeSender{}, landedQuerier())
	payer := f.payer()
	f.runner.opts.Signer = nil
	f.runner.opts.FeePayer = payer

	res, err := f.runner.Estimate(context.Background(), f.plan("p", 2))
	require.NoError(t, err)
	for _, tx := range res.Transactions {
		assert.Empty(t, tx.Signature)
	}

	_, err = f.runner.Run(context.Background(), f.plan("p", 1))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidConfig))
	assert.Equal(t, 0, f.sender.calls)
}
