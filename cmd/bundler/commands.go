package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/bundle"
	"jito-bundler-sol/internal/logic/opsource"
	"jito-bundler-sol/internal/logic/progress"
	"jito-bundler-sol/internal/logic/relay"
	"jito-bundler-sol/internal/logic/tip"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"
	"jito-bundler-sol/internal/service"
	"jito-bundler-sol/internal/svc"

	"github.com/spf13/cobra"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

// runReport 单个计划的输出
type runReport struct {
	Plan      string            `json:"plan"`
	Result    *bundle.RunResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Code      xerrors.Code      `json:"code,omitempty"`
	Stage     xerrors.Stage     `json:"stage,omitempty"`
	Retryable bool              `json:"retryable,omitempty"` // 重新提交可能成功（如超时、上游抖动）
}

func newReport(plan string, res *bundle.RunResult, err error) runReport {
	r := runReport{Plan: plan, Result: res}
	if err != nil {
		r.Error = err.Error()
		r.Code = xerrors.CodeOf(err)
		r.Stage = xerrors.StageOf(err)
		r.Retryable = xerrors.IsRetryable(err)
	}
	return r
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildPlans 读取计划文件并拉取报价
func buildPlans(ctx context.Context, sc *svc.ServiceContext, path string) ([]*bundle.Plan, error) {
	files, err := opsource.LoadPlanFiles(path)
	if err != nil {
		return nil, err
	}
	plans := make([]*bundle.Plan, 0, len(files))
	for _, f := range files {
		p, err := sc.Source.Plan(ctx, sc.FeePayer, f)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", f.Name, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func newEstimateCmd() *cobra.Command {
	var planFile, payer string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Pack plans into transactions and report sizes without submitting",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := newServiceContext(false)
			if err != nil {
				return err
			}
			defer sc.Close()
			if sc.Signer == nil {
				if payer == "" {
					return fmt.Errorf("--payer is required when no keypair is configured")
				}
				if sc.FeePayer, err = types.TryPubkeyFromBase58(payer); err != nil {
					return fmt.Errorf("invalid --payer: %w", err)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()
			plans, err := buildPlans(ctx, sc, planFile)
			if err != nil {
				return err
			}

			runner := sc.NewRunner()
			reports := make([]runReport, 0, len(plans))
			failed := 0
			for _, p := range plans {
				res, err := runner.Estimate(ctx, p)
				if err != nil {
					failed++
				}
				reports = append(reports, newReport(p.Name, res, err))
			}
			if err := printJSON(reports); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d plans failed", failed, len(plans))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "plan file (YAML)")
	cmd.Flags().StringVar(&payer, "payer", "", "fee payer pubkey when no keypair is configured")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var planFile string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Pack, submit and confirm plans as Jito bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := newServiceContext(true)
			if err != nil {
				return err
			}
			defer sc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if err := sc.SyncTipAccounts(ctx); err != nil {
				logger.Warnf("[Main] 同步 tip 账户失败，使用配置列表: %v", err)
			}

			sg := zerosvc.NewServiceGroup()
			sg.Add(service.NewTipFloorSyncService(&sc.Config.Tip, sc.Oracle))
			if sc.Stream != nil {
				sg.Add(sc.Stream)
			}
			go sg.Start()
			defer sg.Stop()

			plans, err := buildPlans(ctx, sc, planFile)
			if err != nil {
				return err
			}

			outcomes := sc.NewRunner().RunAll(ctx, plans)
			reports := make([]runReport, len(outcomes))
			failed := 0
			for i, o := range outcomes {
				if o.Err != nil {
					failed++
				}
				reports[i] = newReport(plans[i].Name, o.Result, o.Err)
			}
			if err := printJSON(reports); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d bundles did not land", failed, len(plans))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "plan file (YAML)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

// bundleStatus status 子命令的输出
type bundleStatus struct {
	BundleID string                    `json:"bundle_id"`
	Inflight *relay.InflightStatus     `json:"inflight,omitempty"`
	Detail   *relay.BundleStatusDetail `json:"detail,omitempty"`
	Record   *progress.BundleRecord    `json:"record,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var runIDs []string
	cmd := &cobra.Command{
		Use:   "status [bundle-id...]",
		Short: "Query bundle status from the relay and the local status store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(runIDs) == 0 {
				return fmt.Errorf("need at least one bundle id or --run")
			}
			sc, err := newServiceContext(false)
			if err != nil {
				return err
			}
			defer sc.Close()
			ctx, cancel := signalContext()
			defer cancel()

			ids, err := resolveRunIDs(ctx, sc, runIDs)
			if err != nil {
				return err
			}
			ids = append(ids, args...)

			out := make([]*bundleStatus, len(ids))
			byID := make(map[string]*bundleStatus, len(ids))
			for i, id := range ids {
				out[i] = &bundleStatus{BundleID: id}
				byID[id] = out[i]
			}

			for start := 0; start < len(ids); start += consts.MaxBundleStatusQuery {
				chunk := ids[start:min(start+consts.MaxBundleStatusQuery, len(ids))]
				inflight, err := sc.Relay.GetInflightBundleStatuses(ctx, chunk)
				if err != nil {
					return err
				}
				for _, s := range inflight.Value {
					if s != nil && byID[s.BundleID] != nil {
						byID[s.BundleID].Inflight = s
					}
				}
				details, err := sc.Relay.GetBundleStatuses(ctx, chunk)
				if err != nil {
					logger.Warnf("[Main] getBundleStatuses 失败: %v", err)
					continue
				}
				for _, d := range details.Value {
					if d != nil && byID[d.BundleID] != nil {
						byID[d.BundleID].Detail = d
					}
				}
			}

			if sc.Progress != nil {
				for _, s := range out {
					rec, err := sc.Progress.Lookup(ctx, s.BundleID)
					if err == nil {
						s.Record = rec
					}
				}
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringSliceVar(&runIDs, "run", nil, "run id printed by submit, resolved through the status store")
	return cmd
}

// resolveRunIDs 通过 Redis 记录把 run id 换成 bundle id
func resolveRunIDs(ctx context.Context, sc *svc.ServiceContext, runIDs []string) ([]string, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	if sc.Progress == nil {
		return nil, fmt.Errorf("--run needs redis.addr in the config")
	}
	ids := make([]string, 0, len(runIDs))
	for _, runID := range runIDs {
		rec, err := sc.Progress.LookupRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		ids = append(ids, rec.BundleID)
	}
	return ids, nil
}

func newTipFloorCmd() *cobra.Command {
	var showAccounts bool
	cmd := &cobra.Command{
		Use:   "tip-floor",
		Short: "Show the current landed tip floor and the tip that would be paid",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := newServiceContext(false)
			if err != nil {
				return err
			}
			defer sc.Close()
			ctx, cancel := signalContext()
			defer cancel()

			floor, err := sc.Relay.GetTipFloor(ctx)
			if err != nil {
				return err
			}
			if _, err := sc.Oracle.Refresh(ctx); err != nil {
				return err
			}
			q, err := sc.Oracle.Quote(ctx)
			if err != nil {
				return err
			}
			floorSol, _ := floor.Percentile(sc.Config.Tip.Percentile)
			report := map[string]any{
				"floor":          floor,
				"percentile":     sc.Config.Tip.Percentile,
				"floor_lamports": tip.SolToLamports(floorSol),
				"min_lamports":   sc.Config.Tip.MinLamports,
				"tip_lamports":   q.Lamports,
				"tip_sol":        float64(q.Lamports) / consts.LamportsPerSol,
				"tip_account":    q.Account.String(),
				"from_floor":     q.FromFloor,
			}
			if showAccounts {
				accounts, err := sc.Relay.GetTipAccounts(ctx)
				if err != nil {
					return err
				}
				report["tip_accounts"] = accounts
			}
			return printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&showAccounts, "accounts", false, "also query getTipAccounts")
	return cmd
}
