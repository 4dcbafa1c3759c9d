package consts

import "runtime"

const (
	LamportsPerSol = 1_000_000_000
	SolDecimals    = 9

	// 交易尺寸上限：IPv6 MTU(1280) - 头部(48)
	RawTxSizeLimit = 1232
	// base64 编码后的最大长度，即 ceil(1232/3)*4
	EncodedTxSizeLimit = 1644
	// 默认安全余量，吸收签名数变化等估算误差
	DefaultSizeSafetyMargin = 30

	DefaultComputeUnitLimit = 200_000
	DefaultComputeUnitPrice = 5000 // micro-lamports

	MinTipLamports = 1000

	// Jito 单个 bundle 最多 5 笔交易
	MaxBundleTransactions = 5
	// getBundleStatuses 单次最多查询 5 个 bundle
	MaxBundleStatusQuery = 5

	// blockhash 在此区块高度差内有效（MAX_PROCESSING_AGE）
	BlockhashValidBlocks = 150
)

// CpuCount 表示逻辑 CPU 核心数，用于控制并发任务调度上限
var CpuCount = runtime.NumCPU()
