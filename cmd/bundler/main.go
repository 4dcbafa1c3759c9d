package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/utils"
	"jito-bundler-sol/internal/svc"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
)

var (
	configFile string
	keypairArg string
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			os.Exit(2)
		}
	}()

	root := &cobra.Command{
		Use:           "bundler",
		Short:         "Pack Solana swap operations into Jito bundles, submit and confirm them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "f", "etc/bundler.yaml", "the config file")
	root.PersistentFlags().StringVar(&keypairArg, "keypair", "", "signer keypair file, overrides keypair_path")

	root.AddCommand(newEstimateCmd(), newSubmitCmd(), newStatusCmd(), newTipFloorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// loadConfig 读取并校验配置，初始化日志
func loadConfig() (config.BundlerConfig, error) {
	var c config.BundlerConfig
	conf.MustLoad(configFile, &c)
	if err := c.Validate(); err != nil {
		return c, err
	}
	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		return c, err
	}
	return c, nil
}

// loadSigner required 为 false 且未配置私钥时返回 nil
func loadSigner(c config.BundlerConfig, required bool) (txbuilder.Signer, error) {
	path := keypairArg
	if path == "" {
		path = c.KeypairPath
	}
	if path == "" {
		if required {
			return nil, fmt.Errorf("keypair is required: set keypair_path or --keypair")
		}
		return nil, nil
	}
	acc, err := utils.LoadKeypair(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	logger.Infof("[Main] signer: %s", acc.PublicKey.ToBase58())
	return txbuilder.AccountSigner{Account: acc}, nil
}

func newServiceContext(required bool) (*svc.ServiceContext, error) {
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}
	signer, err := loadSigner(c, required)
	if err != nil {
		return nil, err
	}
	return svc.NewServiceContext(c, signer)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
