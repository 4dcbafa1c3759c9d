package bundle

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/core"
	"jito-bundler-sol/internal/logic/packer"
	"jito-bundler-sol/internal/logic/progress"
	"jito-bundler-sol/internal/logic/tip"
	"jito-bundler-sol/internal/logic/txbuilder"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"
	"jito-bundler-sol/pkg/utils"

	"github.com/google/uuid"
)

// Plan 一次运行的输入：按顺序执行的操作，以及可选的首笔资金划转
type Plan struct {
	Name       string
	Operations []*core.Operation
	Funding    *txbuilder.Funding
}

// TipQuoter 为一次运行给出 tip 金额与收款账户
type TipQuoter interface {
	Quote(ctx context.Context) (tip.Quote, error)
}

// StatusRecorder 记录 bundle 状态，写入失败不影响运行
type StatusRecorder interface {
	Record(ctx context.Context, rec *progress.BundleRecord)
}

// ResultPublisher 发布运行结果事件
type ResultPublisher interface {
	Publish(ctx context.Context, key types.Pubkey, fields map[string]any) error
}

// RunnerOptions Runner 的依赖。Recorder / Publisher 可为空。
type RunnerOptions struct {
	Pack      config.PackConfig
	Resolver  packer.TableResolver
	Signer    txbuilder.Signer // 为空时只能 Estimate，交易不签名
	FeePayer  types.Pubkey     // Signer 为空时使用
	Blockhash txbuilder.BlockhashProvider
	Tips      TipQuoter
	Submitter *Submitter
	Confirmer *Confirmer
	Recorder  StatusRecorder
	Publisher ResultPublisher
	Workers   int // RunAll 的并发数
}

// RunResult 一次运行的结果
type RunResult struct {
	RunID        string
	Name         string
	BundleID     string
	Status       core.BundleStatus
	Signatures   []string
	LandedSlot   uint64
	TipAccount   types.Pubkey
	TipLamports  uint64
	Blockhash    string
	Batches      []core.BatchSummary
	Groups       [][]core.SwapUnit
	Transactions []*core.Transaction
	Elapsed      time.Duration
}

// Outcome RunAll 中单个计划的结果
type Outcome struct {
	Result *RunResult
	Err    error
}

// Runner 串联打包、定价、组装、提交、确认
type Runner struct {
	opts RunnerOptions
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = consts.CpuCount
	}
	return &Runner{opts: opts}
}

func (r *Runner) payer() types.Pubkey {
	if r.opts.Signer == nil {
		return r.opts.FeePayer
	}
	return types.PubkeyFromCommon(r.opts.Signer.PublicKey())
}

func (r *Runner) params(q tip.Quote, funding *txbuilder.Funding) txbuilder.Params {
	return txbuilder.Params{
		FeePayer:         r.payer(),
		ComputeUnitLimit: r.opts.Pack.ComputeUnitLimit,
		ComputeUnitPrice: r.opts.Pack.ComputeUnitPrice,
		Funding:          funding,
		TipAccount:       q.Account,
		TipLamports:      q.Lamports,
	}
}

func (r *Runner) limits() txbuilder.Limits {
	return txbuilder.Limits{Ceiling: r.opts.Pack.Ceiling(), MaxRawSize: r.opts.Pack.MaxRawSize}
}

// build 打包并组装，返回待提交的 bundle
func (r *Runner) build(ctx context.Context, plan *Plan, q tip.Quote, blockhash txbuilder.BlockhashProvider) (*core.Bundle, *packer.PackResult, error) {
	est := txbuilder.NewEstimator(r.params(q, plan.Funding), r.limits())
	pk := packer.NewPacker(est, r.opts.Resolver, r.opts.Pack.MaxBundleTxs)

	packed, err := pk.Pack(ctx, plan.Operations)
	if err != nil {
		return nil, nil, err
	}
	if len(packed.Batches) == 0 {
		return nil, packed, xerrors.New(xerrors.CodeInvalidArgument, "plan has no operations",
			xerrors.WithStage(xerrors.StagePacking))
	}
	for _, b := range packed.Batches {
		s := b.Summary()
		logger.Infof("[Runner] batch %d: ops=%d size=%d inputs=%v outputs=%v", s.Index, s.Ops, s.Size, s.Inputs, s.Outputs)
	}

	bundle, err := txbuilder.NewAssembler(est, r.opts.Signer, blockhash).AssembleAll(ctx, packed.Batches)
	if err != nil {
		return nil, packed, err
	}
	return bundle, packed, nil
}

// Estimate 只打包与组装，不提交。使用最低 tip 与占位 blockhash，除 lookup table 外不访问网络。
func (r *Runner) Estimate(ctx context.Context, plan *Plan) (*RunResult, error) {
	runID := uuid.NewString()
	q := tip.Quote{Account: consts.JitoTipAccounts[0], Lamports: consts.MinTipLamports}
	bundle, packed, err := r.build(ctx, plan, q, txbuilder.StaticBlockhash{})
	if err != nil {
		return nil, xerrors.Annotate(err, xerrors.WithMetadata(xerrors.MetaRunID, runID))
	}
	res := &RunResult{RunID: runID, Name: plan.Name, Status: core.BundlePending}
	fillBundle(res, bundle, packed)
	return res, nil
}

// Run 执行一个计划直到 bundle 到达终态。返回的错误都带有阶段与 run id。
func (r *Runner) Run(ctx context.Context, plan *Plan) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	res := &RunResult{RunID: runID, Name: plan.Name, Status: core.BundlePending}
	fail := func(err error, opts ...xerrors.Option) (*RunResult, error) {
		res.Elapsed = time.Since(start)
		opts = append(opts, xerrors.WithMetadata(xerrors.MetaRunID, runID))
		err = xerrors.Annotate(err, opts...)
		logger.Errorf("[Runner] 运行失败: run=%s plan=%s err=%v", runID, plan.Name, err)
		return res, err
	}

	logger.Infof("[Runner] 开始运行: run=%s plan=%s ops=%d", runID, plan.Name, len(plan.Operations))
	if r.opts.Signer == nil {
		return fail(xerrors.New(xerrors.CodeInvalidConfig, "signer is required to submit bundles"))
	}

	q, err := r.opts.Tips.Quote(ctx)
	if err != nil {
		return fail(xerrors.Wrap(xerrors.CodeUpstream, err, "tip quote failed", xerrors.WithStage(xerrors.StageTip)))
	}

	bundle, packed, err := r.build(ctx, plan, q, r.opts.Blockhash)
	if err != nil {
		return fail(err)
	}
	bundle.RunID = runID
	fillBundle(res, bundle, packed)

	bundleID, err := r.opts.Submitter.Submit(ctx, bundle.Wires())
	if err != nil {
		return fail(err)
	}
	res.BundleID = bundleID
	r.record(ctx, res, nil)

	conf, err := r.opts.Confirmer.Await(ctx, bundleID)
	if conf != nil {
		res.Status = conf.Status
		res.LandedSlot = conf.LandedSlot
		if len(conf.Signatures) > 0 {
			res.Signatures = conf.Signatures
		}
	}
	res.Elapsed = time.Since(start)
	r.record(ctx, res, err)
	r.publish(ctx, res, err)
	if err != nil {
		return fail(err, xerrors.WithMetadata(xerrors.MetaBundleID, bundleID))
	}

	logger.Infof("[Runner] 运行完成: run=%s bundle=%s status=%s slot=%d txs=%d 耗时=%v",
		runID, bundleID, res.Status, res.LandedSlot, len(res.Transactions), res.Elapsed)
	return res, nil
}

// RunAll 并发执行互不相关的计划，结果顺序与输入一致。计划之间只共享 lookup table 缓存。
func (r *Runner) RunAll(ctx context.Context, plans []*Plan) []Outcome {
	return utils.ParallelMap(plans, r.opts.Workers, func(p *Plan) (out Outcome) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("[Runner] plan %s panic: %v\n%s", p.Name, rec, debug.Stack())
				out = Outcome{Err: xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("panic: %v", rec))}
			}
		}()
		res, err := r.Run(ctx, p)
		return Outcome{Result: res, Err: err}
	})
}

func fillBundle(res *RunResult, bundle *core.Bundle, packed *packer.PackResult) {
	res.TipAccount = bundle.TipAccount
	res.TipLamports = bundle.TipLamports
	res.Blockhash = bundle.Blockhash
	res.Transactions = bundle.Transactions
	res.Groups = packed.Groups
	res.Batches = make([]core.BatchSummary, 0, len(packed.Batches))
	for _, b := range packed.Batches {
		res.Batches = append(res.Batches, b.Summary())
	}
	// 确认阶段拿不到签名时，使用本地签名
	res.Signatures = make([]string, 0, len(bundle.Transactions))
	for _, tx := range bundle.Transactions {
		if tx.Signature != "" {
			res.Signatures = append(res.Signatures, tx.Signature)
		}
	}
}

func (r *Runner) record(ctx context.Context, res *RunResult, runErr error) {
	if r.opts.Recorder == nil {
		return
	}
	rec := &progress.BundleRecord{
		RunID:       res.RunID,
		BundleID:    res.BundleID,
		Status:      res.Status.String(),
		Txs:         len(res.Transactions),
		TipLamports: res.TipLamports,
		TipAccount:  res.TipAccount.String(),
		LandedSlot:  res.LandedSlot,
		Signatures:  res.Signatures,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	r.opts.Recorder.Record(ctx, rec)
}

func (r *Runner) publish(ctx context.Context, res *RunResult, runErr error) {
	if r.opts.Publisher == nil {
		return
	}
	if err := r.opts.Publisher.Publish(ctx, r.payer(), res.Fields(runErr)); err != nil {
		logger.Warnf("[Runner] 发布结果失败: run=%s bundle=%s err=%v", res.RunID, res.BundleID, err)
	}
}

// Fields 转为事件字段，值只使用 structpb 支持的类型
func (res *RunResult) Fields(runErr error) map[string]any {
	sigs := make([]any, len(res.Signatures))
	for i, s := range res.Signatures {
		sigs[i] = s
	}
	batches := make([]any, len(res.Batches))
	for i, b := range res.Batches {
		batches[i] = map[string]any{"index": b.Index, "ops": b.Ops, "size": b.Size}
	}
	fields := map[string]any{
		"run_id":       res.RunID,
		"name":         res.Name,
		"bundle_id":    res.BundleID,
		"status":       res.Status.String(),
		"landed_slot":  float64(res.LandedSlot),
		"tip_lamports": float64(res.TipLamports),
		"tip_account":  res.TipAccount.String(),
		"signatures":   sigs,
		"batches":      batches,
		"elapsed_ms":   res.Elapsed.Milliseconds(),
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		fields["error_code"] = string(xerrors.CodeOf(runErr))
		fields["error_stage"] = string(xerrors.StageOf(runErr))
	}
	return fields
}
