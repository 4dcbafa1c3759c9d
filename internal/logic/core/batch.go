package core

// PositionFlags 描述 batch 在本次运行中的位置，决定要追加哪些特殊指令（影响交易大小）
type PositionFlags struct {
	IsFirst  bool      // 第一笔交易：追加资金划转指令
	IsLast   bool      // 最后一笔交易：追加 tip 转账
	Cleanups []Cleanup // liquidation：每个非原生 token 追加一条 close-account 指令
}

// CleanupCount liquidation 需要关闭的账户数
func (f PositionFlags) CleanupCount() int {
	return len(f.Cleanups)
}

// WithCleanup 返回追加了一个 cleanup 的副本，不共享底层数组
func (f PositionFlags) WithCleanup(c *Cleanup) PositionFlags {
	out := PositionFlags{IsFirst: f.IsFirst, IsLast: f.IsLast}
	out.Cleanups = make([]Cleanup, len(f.Cleanups), len(f.Cleanups)+1)
	copy(out.Cleanups, f.Cleanups)
	if c != nil {
		out.Cleanups = append(out.Cleanups, *c)
	}
	return out
}

// Batch 打包阶段的累加器：按顺序持有已分配的操作、引用到的 lookup table 以及位置标记。
// 封箱后不再修改，交给 assembler 生成交易。
type Batch struct {
	Index      int            // 在 bundle 中的位置
	Operations []*Operation   // 已分配的操作，保持输入顺序
	OpIndexes  []int          // 每个操作在原始输入中的下标
	Tables     LookupTableSet // 已合并的 lookup table
	Flags      PositionFlags  // 位置标记
	Size       int            // 最近一次估算的 base64 长度
	sealed     bool
}

func NewBatch(index int) *Batch {
	return &Batch{Index: index, Tables: LookupTableSet{}}
}

func (b *Batch) Len() int {
	return len(b.Operations)
}

func (b *Batch) IsEmpty() bool {
	return len(b.Operations) == 0
}

func (b *Batch) Seal() {
	b.sealed = true
}

func (b *Batch) Sealed() bool {
	return b.sealed
}

// Units 返回 batch 内各操作对应的逻辑单元
func (b *Batch) Units() []SwapUnit {
	units := make([]SwapUnit, 0, len(b.Operations))
	for _, op := range b.Operations {
		units = append(units, op.Unit)
	}
	return units
}

// Summary 汇总 batch 的输入输出数量，按 mint 聚合
func (b *Batch) Summary() BatchSummary {
	s := BatchSummary{
		Index:   b.Index,
		Inputs:  make(map[string]uint64),
		Outputs: make(map[string]uint64),
		Ops:     len(b.Operations),
		Size:    b.Size,
	}
	for _, op := range b.Operations {
		s.Inputs[op.Unit.InputMint.String()] += op.Unit.InAmount
		s.Outputs[op.Unit.OutputMint.String()] += op.Unit.OutAmount
	}
	return s
}

// BatchSummary 用于日志与结果上报
type BatchSummary struct {
	Index   int               `json:"index"`
	Ops     int               `json:"ops"`
	Size    int               `json:"size"`
	Inputs  map[string]uint64 `json:"inputs"`
	Outputs map[string]uint64 `json:"outputs"`
}
