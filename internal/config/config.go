package config

import (
	"time"

	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/pkg/logger"
)

type LogConfig struct {
	Format   string `json:"format,default=console" validate:"oneof=console json"`      // 日志格式，支持 "console" 或 "json"
	LogDir   string `json:"log_dir,optional"`                                          // 日志目录（可为相对路径或绝对路径），为空只输出到 stdout
	Level    string `json:"level,default=info" validate:"oneof=debug info warn error"` // 日志级别：debug / info / warn / error
	Compress bool   `json:"compress,optional"`                                         // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RpcConfig Solana RPC 节点配置
type RpcConfig struct {
	Endpoint       string `json:"endpoint" validate:"required,url"`                       // RPC 地址
	TimeoutMs      int    `json:"timeout_ms,default=5000" validate:"gt=0"`                // 单次请求超时（毫秒）
	BlockhashFrom  string `json:"blockhash_from,default=rpc" validate:"oneof=rpc geyser"` // blockhash 来源：rpc / geyser
	LookupBatchMax int    `json:"lookup_batch_max,default=100" validate:"gt=0,lte=100"`   // getMultipleAccounts 单次最多账户数
}

func (c *RpcConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// GeyserConfig Yellowstone gRPC 连接配置，仅在 blockhash_from=geyser 时使用
type GeyserConfig struct {
	Endpoint                 string `json:"endpoint,optional"`                      // gRPC 服务端地址
	XToken                   string `json:"x_token,optional"`                       // x-token 认证
	Insecure                 bool   `json:"insecure,optional"`                      // 不使用 TLS（本地调试）
	ConnectTimeoutSec        int    `json:"connect_timeout_sec,default=10"`         // 连接建立超时（秒）
	KeepalivePingIntervalSec int    `json:"keepalive_ping_interval_sec,default=30"` // 底层 keepalive 间隔（秒）
	KeepalivePingTimeoutSec  int    `json:"keepalive_ping_timeout_sec,default=10"`  // 底层 keepalive 超时（秒）
	MaxCallRecvMsgSize       int    `json:"max_call_recv_msg_size,default=4194304"` // 单条消息最大接收字节数
	Commitment               string `json:"commitment,default=confirmed" validate:"omitempty,oneof=processed confirmed finalized"`

	// 订阅 blocks_meta，在内存中保留最新 blockhash
	Stream                bool `json:"stream,optional"`
	ReconnectIntervalSec  int  `json:"reconnect_interval_sec,default=2"`
	StreamPingIntervalSec int  `json:"stream_ping_interval_sec,default=10"`
	SendTimeoutSec        int  `json:"send_timeout_sec,default=5"`
	IdleTimeoutSec        int  `json:"idle_timeout_sec,default=30"`      // 超过该时长没有任何推送则重连
	MaxBlockhashAgeSec    int  `json:"max_blockhash_age_sec,default=20"` // 缓存超龄后回退到 GetLatestBlockhash
}

// RelayConfig Jito block engine 配置
type RelayConfig struct {
	BlockEngineURL string   `json:"block_engine_url,default=https://mainnet.block-engine.jito.wtf/api/v1" validate:"required,url"`
	BundlesURL     string   `json:"bundles_url,default=https://bundles.jito.wtf/api/v1" validate:"required,url"` // tip_floor 等统计接口
	AuthUUID       string   `json:"auth_uuid,optional"`                                                          // x-jito-auth，可选
	TimeoutMs      int      `json:"timeout_ms,default=30000" validate:"gt=0"`
	RetryCount     int      `json:"retry_count,default=3" validate:"gte=0"` // 统计接口的 HTTP 重试次数，sendBundle 不走 HTTP 重试
	TipAccounts    []string `json:"tip_accounts,optional" validate:"dive,base58"`
	FetchTipAccts  bool     `json:"fetch_tip_accounts,optional"` // 启动时通过 getTipAccounts 拉取 tip 账户
}

func (c *RelayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TipAccountList 返回配置的 tip 账户，未配置时使用内置 mainnet 列表
func (c *RelayConfig) TipAccountList() []string {
	if len(c.TipAccounts) > 0 {
		return c.TipAccounts
	}
	return consts.JitoTipAccountStrs
}

// PackConfig 交易尺寸与计算预算相关的协议常量
type PackConfig struct {
	MaxEncodedSize   int    `json:"max_encoded_size,default=1644" validate:"gt=0"` // base64 编码后的上限
	SafetyMargin     int    `json:"safety_margin,default=30" validate:"gte=0,ltfield=MaxEncodedSize"`
	MaxRawSize       int    `json:"max_raw_size,default=1232" validate:"gt=0"`
	ComputeUnitLimit uint32 `json:"compute_unit_limit,default=200000" validate:"gt=0,lte=1400000"`
	ComputeUnitPrice uint64 `json:"compute_unit_price,default=5000"` // micro-lamports
	MaxBundleTxs     int    `json:"max_bundle_txs,default=5" validate:"gt=0,lte=5"`
}

// Ceiling 返回扣除安全余量后的 base64 长度上限
func (c *PackConfig) Ceiling() int {
	return c.MaxEncodedSize - c.SafetyMargin
}

// TipConfig tip 金额配置
type TipConfig struct {
	MinLamports     uint64 `json:"min_lamports,default=1000" validate:"gt=0"`
	Percentile      int    `json:"percentile,default=75" validate:"oneof=25 50 75 95 99"` // 使用 tip floor 的哪个分位
	SyncIntervalSec int    `json:"sync_interval_sec,default=30" validate:"gt=0"`          // tip floor 刷新间隔
	MaxLamports     uint64 `json:"max_lamports,optional"`                                 // 上限，0 表示不限制
}

// ConfirmConfig bundle 状态轮询配置
type ConfirmConfig struct {
	PollIntervalMs int `json:"poll_interval_ms,default=2000" validate:"gt=0"`
	DeadlineSec    int `json:"deadline_sec,default=60" validate:"gt=0"`
}

func (c *ConfirmConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *ConfirmConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSec) * time.Second
}

// JupiterConfig 报价服务配置
type JupiterConfig struct {
	BaseURL      string   `json:"base_url,default=https://api.jup.ag/swap/v1" validate:"required,url"`
	APIKey       string   `json:"api_key,optional"`
	SlippageBps  int      `json:"slippage_bps,default=50" validate:"gt=0,lte=10000"`
	ExcludeDexes []string `json:"exclude_dexes,optional"`
	TimeoutMs    int      `json:"timeout_ms,default=10000" validate:"gt=0"`
	Workers      int      `json:"workers,default=4" validate:"gt=0"` // 并发报价数
}

func (c *JupiterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RedisConfig bundle 状态记录
type RedisConfig struct {
	Addr     string `json:"addr,optional"` // 为空则不记录
	Password string `json:"password,optional"`
	DB       int    `json:"db,optional"`
	TTLHours int    `json:"ttl_hours,default=24" validate:"gte=0"`
}

// TTL 状态记录的过期时间，未配置时 24 小时
func (c *RedisConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置
type KafkaProducerConfig struct {
	Brokers       string `json:"brokers,optional"`    // Kafka broker 地址，多个用英文逗号分隔，为空则不发送
	BatchSize     int    `json:"batch_size,optional"` // 批处理大小（单位字节）
	LingerMs      int    `json:"linger_ms,default=5"` // 批处理最大延迟（毫秒）
	Topic         string `json:"topic,default=bundle_result"`
	Partitions    int    `json:"partitions,default=3" validate:"gte=0"`
	SendTimeoutMs int    `json:"send_timeout_ms,default=3000" validate:"gte=0"` // 单条事件发送并等待 ack 的超时
}

func (c *KafkaProducerConfig) SendTimeout() time.Duration {
	if c.SendTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// VaultConfig 托管合约包装，启用后 Jupiter 指令会被包进 jup_swap
type VaultConfig struct {
	Enabled bool   `json:"enabled,optional"`
	Program string `json:"program,default=frnxh6RXdbpvTbhQ8yRtEbLNnXKmbGEqwfwMpZaBRw9" validate:"omitempty,base58"`
	Project string `json:"project,optional" validate:"omitempty,base58"`
}

// BundlerConfig 是主配置结构体
type BundlerConfig struct {
	LogConf           LogConfig           `json:"logger"`                  // 日志配置
	Rpc               RpcConfig           `json:"rpc"`                     // Solana RPC
	Geyser            GeyserConfig        `json:"geyser,optional"`         // Yellowstone gRPC
	Relay             RelayConfig         `json:"relay"`                   // Jito relay
	Jupiter           JupiterConfig       `json:"jupiter"`                 // 报价服务
	Pack              PackConfig          `json:"pack"`                    // 交易尺寸
	Tip               TipConfig           `json:"tip"`                     // tip 金额
	Confirm           ConfirmConfig       `json:"confirm"`                 // 确认轮询
	Redis             RedisConfig         `json:"redis,optional"`          // 状态记录
	KafkaProducerConf KafkaProducerConfig `json:"kafka_producer,optional"` // 结果事件
	Vault             VaultConfig         `json:"vault,optional"`          // 托管合约

	KeypairPath string `json:"keypair_path,optional"` // 签名私钥文件（solana-keygen JSON 格式）
}
