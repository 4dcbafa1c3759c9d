package config

import (
	"fmt"

	xerrors "jito-bundler-sol/internal/pkg/errors"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("base58", func(fl validator.FieldLevel) bool {
		_, err := types.TryPubkeyFromBase58(fl.Field().String())
		return err == nil
	})
	return v
}

// Validator 返回包内共享的校验器，供边界层校验外部响应
func Validator() *validator.Validate {
	return validate
}

// Validate 校验配置，返回首个不合法字段
func (c *BundlerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidConfig, err, "invalid config")
	}
	if c.Vault.Enabled && c.Vault.Project == "" {
		return xerrors.New(xerrors.CodeInvalidConfig, "vault.project is required when vault is enabled")
	}
	if c.Rpc.BlockhashFrom == "geyser" && c.Geyser.Endpoint == "" {
		return xerrors.New(xerrors.CodeInvalidConfig, "geyser.endpoint is required when blockhash_from=geyser")
	}
	if c.Pack.Ceiling() <= 0 {
		return xerrors.New(xerrors.CodeInvalidConfig, fmt.Sprintf("ceiling must be positive, got %d", c.Pack.Ceiling()))
	}
	return nil
}

// Default 返回与 etc/bundler.yaml 默认值一致的配置，测试与 estimate 子命令使用
func Default() BundlerConfig {
	return BundlerConfig{
		LogConf: LogConfig{Format: "console", Level: "info"},
		Rpc: RpcConfig{
			Endpoint:       "https://api.mainnet-beta.solana.com",
			TimeoutMs:      5000,
			BlockhashFrom:  "rpc",
			LookupBatchMax: 100,
		},
		Geyser: GeyserConfig{
			ConnectTimeoutSec:        10,
			KeepalivePingIntervalSec: 30,
			KeepalivePingTimeoutSec:  10,
			MaxCallRecvMsgSize:       4 * 1024 * 1024,
			Commitment:               "confirmed",
			ReconnectIntervalSec:     2,
			StreamPingIntervalSec:    10,
			SendTimeoutSec:           5,
			IdleTimeoutSec:           30,
			MaxBlockhashAgeSec:       20,
		},
		Relay: RelayConfig{
			BlockEngineURL: "https://mainnet.block-engine.jito.wtf/api/v1",
			BundlesURL:     "https://bundles.jito.wtf/api/v1",
			TimeoutMs:      30000,
			RetryCount:     3,
		},
		Jupiter: JupiterConfig{
			BaseURL:     "https://api.jup.ag/swap/v1",
			SlippageBps: 50,
			TimeoutMs:   10000,
			Workers:     4,
		},
		Pack: PackConfig{
			MaxEncodedSize:   1644,
			SafetyMargin:     30,
			MaxRawSize:       1232,
			ComputeUnitLimit: 200_000,
			ComputeUnitPrice: 5000,
			MaxBundleTxs:     5,
		},
		Tip:     TipConfig{MinLamports: 1000, Percentile: 75, SyncIntervalSec: 30},
		Confirm: ConfirmConfig{PollIntervalMs: 2000, DeadlineSec: 60},
		Redis:   RedisConfig{TTLHours: 24},
		KafkaProducerConf: KafkaProducerConfig{
			LingerMs:      5,
			Topic:         "bundle_result",
			Partitions:    3,
			SendTimeoutMs: 3000,
		},
		Vault: VaultConfig{Program: "frnxh6RXdbpvTbhQ8yRtEbLNnXKmbGEqwfwMpZaBRw9"},
	}
}
