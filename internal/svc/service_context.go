package svc

import (
	"context"
	"time"

	"jito-bundler-sol/internal/cache"
	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/bundle"
	"jito-bundler-sol/internal/logic/chain"
	"jito-bundler-sol/internal/logic/grpc"
	"jito-bundler-sol/internal/logic/lookup"
	"jito-bundler-sol/internal/logic/opsource"
	"jito-bundler-sol/internal/logic/progress"
	"jito-bundler-sol/internal/logic/relay"
	"jito-bundler-sol/internal/logic/tip"
	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/mq"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/redis/go-redis/v9"
)

const submitRetryWait = 500 * time.Millisecond

// ServiceContext 一个进程内共享的客户端与缓存
type ServiceContext struct {
	Config config.BundlerConfig

	Rpc       *client.Client
	Relay     *relay.Client
	Tables    *cache.LookupTableCache
	Resolver  *lookup.Resolver
	TipFloors *cache.TipFloorCache
	Oracle    *tip.Oracle
	Blockhash txbuilder.BlockhashProvider
	Geyser    *grpc.GeyserClient
	Stream    *grpc.BlockhashStream // geyser.stream=true 时非空，需由调用方启动
	Source    *opsource.Source

	Redis     *redis.Client
	Progress  *progress.ProgressManager
	Publisher *mq.ResultPublisher

	Signer   txbuilder.Signer
	FeePayer types.Pubkey
}

// NewServiceContext signer 为空时只能估算。Redis / Kafka 未配置时跳过。
func NewServiceContext(c config.BundlerConfig, signer txbuilder.Signer) (*ServiceContext, error) {
	// 1. Solana RPC 与 lookup table 缓存
	rpc := client.NewClient(c.Rpc.Endpoint)
	tables := cache.NewLookupTableCache()
	fetcher := lookup.NewRpcTableFetcher(rpc, c.Rpc.Timeout(), c.Rpc.LookupBatchMax)

	// 2. Jito relay 与 tip
	relayClient := relay.NewClient(c.Relay)
	floors := cache.NewTipFloorCache()
	accounts, err := types.TryPubkeysFromBase58(c.Relay.TipAccountList())
	if err != nil {
		return nil, err
	}
	oracle := tip.NewOracle(relayClient, floors, c.Tip, accounts)

	sc := &ServiceContext{
		Config:    c,
		Rpc:       rpc,
		Relay:     relayClient,
		Tables:    tables,
		Resolver:  lookup.NewResolver(tables, fetcher),
		TipFloors: floors,
		Oracle:    oracle,
		Signer:    signer,
	}
	if signer != nil {
		sc.FeePayer = types.PubkeyFromCommon(signer.PublicKey())
	}

	// 3. blockhash 来源
	if c.Rpc.BlockhashFrom == "geyser" {
		geyser, err := grpc.NewGeyserClient(c.Geyser, c.Rpc.Timeout())
		if err != nil {
			sc.Close()
			return nil, err
		}
		sc.Geyser = geyser
		sc.Blockhash = geyser
		if c.Geyser.Stream {
			sc.Stream = grpc.NewBlockhashStream(geyser, c.Geyser)
			sc.Blockhash = sc.Stream
		}
	} else {
		sc.Blockhash = chain.NewRpcBlockhash(rpc, c.Rpc.Timeout())
	}

	// 4. 报价与指令
	var vault *opsource.VaultWrapper
	if c.Vault.Enabled {
		if vault, err = opsource.NewVaultWrapper(c.Vault); err != nil {
			sc.Close()
			return nil, err
		}
	}
	mints := chain.NewMintPrograms(rpc, c.Rpc.Timeout(), c.Rpc.LookupBatchMax)
	sc.Source = opsource.NewSource(opsource.NewJupiterClient(c.Jupiter), mints, vault, c.Jupiter.Workers)

	// 5. 状态记录（Redis）
	if c.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Errorf("Redis 连接失败: %v", err)
			_ = rdb.Close()
			sc.Close()
			return nil, err
		}
		sc.Redis = rdb
		sc.Progress = progress.NewProgressManager(progress.NewRedisBundleStore(rdb, c.Redis.TTL()))
	}

	// 6. 结果事件（Kafka）
	if c.KafkaProducerConf.Brokers != "" {
		publisher, err := mq.NewResultPublisher(c.KafkaProducerConf)
		if err != nil {
			logger.Errorf("Kafka producer 初始化失败: %v", err)
			sc.Close()
			return nil, err
		}
		sc.Publisher = publisher
	}

	logger.Infof("[Svc] 服务上下文初始化完成: blockhash=%s redis=%v kafka=%v vault=%v",
		c.Rpc.BlockhashFrom, sc.Redis != nil, sc.Publisher != nil, c.Vault.Enabled)
	return sc, nil
}

// SyncTipAccounts 按配置从 relay 拉取 tip 账户
func (sc *ServiceContext) SyncTipAccounts(ctx context.Context) error {
	if !sc.Config.Relay.FetchTipAccts {
		return nil
	}
	return sc.Oracle.SyncAccounts(ctx, sc.Relay)
}

// NewRunner 按配置组装 Runner，每次调用共享同一份缓存与客户端
func (sc *ServiceContext) NewRunner() *bundle.Runner {
	opts := bundle.RunnerOptions{
		Pack:      sc.Config.Pack,
		Resolver:  sc.Resolver,
		FeePayer:  sc.FeePayer,
		Blockhash: sc.Blockhash,
		Tips:      sc.Oracle,
		Submitter: bundle.NewSubmitter(sc.Relay, bundle.RealClock, submitRetryWait),
		Confirmer: bundle.NewConfirmer(sc.Relay, bundle.RealClock, sc.Config.Confirm.PollInterval(), sc.Config.Confirm.Deadline()),
		Workers:   sc.Config.Jupiter.Workers,
	}
	// 接口字段不能放入 nil 指针
	if sc.Signer != nil {
		opts.Signer = sc.Signer
	}
	if sc.Progress != nil {
		opts.Recorder = sc.Progress
	}
	if sc.Publisher != nil {
		opts.Publisher = sc.Publisher
	}
	return bundle.NewRunner(opts)
}

// Close 关闭服务上下文中的资源
func (sc *ServiceContext) Close() {
	if sc.Progress != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		sc.Progress.Flush(ctx)
		cancel()
	}
	if sc.Publisher != nil {
		sc.Publisher.Close()
	}
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
	if sc.Geyser != nil {
		sc.Geyser.Close()
	}
}
