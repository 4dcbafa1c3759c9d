package txbuilder

import (
	"jito-bundler-sol/internal/logic/core"
	xerrors "jito-bundler-sol/internal/pkg/errors"
)

// Limits 交易尺寸上限
type Limits struct {
	Ceiling    int // base64 长度上限（已扣除安全余量）
	MaxRawSize int // wire 字节上限，0 表示不检查
}

func (l Limits) allows(s Size) bool {
	if s.Encoded > l.Ceiling {
		return false
	}
	return l.MaxRawSize <= 0 || s.Raw <= l.MaxRawSize
}

// Estimator 计算候选 batch 编码后的精确长度。与 Assembler 走同一条编码路径，
// 唯一区别是 blockhash 与签名使用占位值（二者都是定长字段）。
type Estimator struct {
	params Params
	limits Limits
}

func NewEstimator(params Params, limits Limits) *Estimator {
	return &Estimator{params: params, limits: limits}
}

func (e *Estimator) Params() Params {
	return e.params
}

func (e *Estimator) Limits() Limits {
	return e.limits
}

// EstimateSize 纯函数，不访问网络
func (e *Estimator) EstimateSize(ops []*core.Operation, tables core.LookupTableSet, flags core.PositionFlags) (Size, error) {
	ixs, err := composeInstructions(&e.params, ops, flags)
	if err != nil {
		return Size{}, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "compose instructions failed")
	}
	msg, err := compileMessage(&e.params, ixs, tables, dummyBlockhash)
	if err != nil {
		return Size{}, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "compile message failed")
	}
	raw, _, err := serialize(msg, nil)
	if err != nil {
		return Size{}, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "serialize failed")
	}
	return sizeOf(raw), nil
}

// CanFit 判断候选 batch 是否在上限之内
func (e *Estimator) CanFit(ops []*core.Operation, tables core.LookupTableSet, flags core.PositionFlags) (bool, Size, error) {
	size, err := e.EstimateSize(ops, tables, flags)
	if err != nil {
		return false, size, err
	}
	return e.limits.allows(size), size, nil
}
