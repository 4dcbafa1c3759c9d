package opsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/bundle"
	"jito-bundler-sol/internal/logic/txbuilder"
	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/types"

	"gopkg.in/yaml.v3"
)

const (
	KindPortfolio   = "portfolio"
	KindLiquidation = "liquidation"
)

// PlanFile YAML 格式的运行计划
type PlanFile struct {
	Name    string       `yaml:"name" validate:"required"`
	Kind    string       `yaml:"kind" validate:"oneof=portfolio liquidation"`
	Input   string       `yaml:"input" validate:"required_if=Kind portfolio,omitempty,base58"`
	Output  string       `yaml:"output" validate:"required_if=Kind liquidation,omitempty,base58"`
	Legs    []LegFile    `yaml:"legs" validate:"required,min=1,dive"`
	OrderID string       `yaml:"order_id" validate:"omitempty,base58"`
	Funding *FundingFile `yaml:"funding"`
}

type LegFile struct {
	Mint   string `yaml:"mint" validate:"required,base58"`
	Amount uint64 `yaml:"amount" validate:"gt=0"`
}

type FundingFile struct {
	Mint         string `yaml:"mint" validate:"required,base58"`
	TokenProgram string `yaml:"token_program" validate:"omitempty,base58"`
	Destination  string `yaml:"destination" validate:"required,base58"`
	Amount       uint64 `yaml:"amount" validate:"gt=0"`
}

// LoadPlanFiles 读取 YAML，一个文件可包含多个以 --- 分隔的计划
func LoadPlanFiles(path string) ([]*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var plans []*PlanFile
	dec := yaml.NewDecoder(f)
	for {
		var p PlanFile
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode plan file")
		}
		if err := config.Validator().Struct(&p); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid plan %q", p.Name))
		}
		plans = append(plans, &p)
	}
	if len(plans) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "plan file is empty")
	}
	return plans, nil
}

func (lf LegFile) leg() Leg {
	return Leg{Mint: types.PubkeyFromBase58(lf.Mint), Amount: lf.Amount}
}

func (ff *FundingFile) funding() *txbuilder.Funding {
	if ff == nil {
		return nil
	}
	f := &txbuilder.Funding{
		Mint:        types.PubkeyFromBase58(ff.Mint),
		Destination: types.PubkeyFromBase58(ff.Destination),
		Amount:      ff.Amount,
	}
	if ff.TokenProgram != "" {
		f.TokenProgram = types.PubkeyFromBase58(ff.TokenProgram)
	}
	return f
}

// Plan 拉取报价与指令，生成可执行的计划
func (s *Source) Plan(ctx context.Context, user types.Pubkey, pf *PlanFile) (*bundle.Plan, error) {
	var orderID types.Pubkey
	if pf.OrderID != "" {
		orderID = types.PubkeyFromBase58(pf.OrderID)
	}
	if s.vault != nil && orderID.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order_id is required in vault mode",
			xerrors.WithStage(xerrors.StageResolve))
	}

	legs := make([]Leg, len(pf.Legs))
	for i, l := range pf.Legs {
		legs[i] = l.leg()
	}

	var (
		plan = &bundle.Plan{Name: pf.Name, Funding: pf.Funding.funding()}
		err  error
	)
	switch pf.Kind {
	case KindPortfolio:
		plan.Operations, err = s.Portfolio(ctx, user, Portfolio{Input: types.PubkeyFromBase58(pf.Input), Outputs: legs, OrderID: orderID})
	case KindLiquidation:
		plan.Operations, err = s.Liquidation(ctx, user, Liquidation{Inputs: legs, Output: types.PubkeyFromBase58(pf.Output), OrderID: orderID})
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, "unknown plan kind: "+pf.Kind)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}
