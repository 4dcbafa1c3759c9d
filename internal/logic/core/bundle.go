package core

import "jito-bundler-sol/internal/pkg/types"

// Transaction 表示一个已封箱 batch 编码后的交易，生成后只读
type Transaction struct {
	Index       int           // 在 bundle 中的位置
	Wire        string        // base64 编码的 wire 交易
	RawSize     int           // 序列化后的字节数
	EncodedSize int           // base64 长度
	Signature   string        // 首个签名（base58），未签名时为空
	Flags       PositionFlags // 生成时使用的位置标记
}

// Bundle 表示一组需要原子上链的交易。tip 只出现在最后一笔交易中。
type Bundle struct {
	RunID        string
	Transactions []*Transaction
	Blockhash    string       // 本次运行共享的 blockhash
	TipAccount   types.Pubkey // 本次运行选定的 tip 账户
	TipLamports  uint64
}

// Wires 按顺序返回 base64 交易列表，用于提交
func (b *Bundle) Wires() []string {
	out := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		out[i] = tx.Wire
	}
	return out
}

// BundleStatus 表示 bundle 的确认状态
type BundleStatus int

const (
	BundlePending  BundleStatus = 0 // 🕒 已提交，等待结果
	BundleLanded   BundleStatus = 1 // ✅ 已上链
	BundleFailed   BundleStatus = 2 // ❌ 执行失败
	BundleInvalid  BundleStatus = 3 // ❌ relay 不认识或已丢弃
	BundleTimedOut BundleStatus = 4 // ⌛ 超时未得到终态，之后仍可能上链
)

func (s BundleStatus) String() string {
	switch s {
	case BundlePending:
		return "Pending"
	case BundleLanded:
		return "Landed"
	case BundleFailed:
		return "Failed"
	case BundleInvalid:
		return "Invalid"
	case BundleTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

func (s BundleStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s BundleStatus) IsTerminal() bool {
	return s != BundlePending
}

// ParseBundleStatus 解析 relay 返回的状态字符串，无法识别时视为 Invalid
func ParseBundleStatus(s string) BundleStatus {
	switch s {
	case "Pending":
		return BundlePending
	case "Landed":
		return BundleLanded
	case "Failed":
		return BundleFailed
	default:
		return BundleInvalid
	}
}
