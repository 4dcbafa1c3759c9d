package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOption 日志初始化参数
type LogOption struct {
	Format   string // console / json
	LogDir   string // 为空时只输出到标准输出
	Level    string // debug / info / warn / error
	Compress bool   // 是否压缩轮转后的旧文件
}

const (
	logFileName   = "bundler.log"
	maxSizeMB     = 200
	maxBackups    = 10
	maxAgeDays    = 7
	defaultFormat = "console"
)

var (
	mu     sync.RWMutex
	sugar  = zap.NewNop().Sugar()
	closer func() error
)

// Init 初始化全局日志，可重复调用，后一次覆盖前一次
func Init(opt LogOption) error {
	level := zapcore.InfoLevel
	if opt.Level != "" {
		if err := level.UnmarshalText([]byte(opt.Level)); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	format := opt.Format
	if format == "" {
		format = defaultFormat
	}
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	syncers := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	var rotate *lumberjack.Logger
	if opt.LogDir != "" {
		if err := os.MkdirAll(opt.LogDir, 0o755); err != nil {
			return err
		}
		rotate = &lumberjack.Logger{
			Filename:   filepath.Join(opt.LogDir, logFileName),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   opt.Compress,
			LocalTime:  true,
		}
		syncers = append(syncers, zapcore.AddSync(rotate))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	defer mu.Unlock()
	_ = sugar.Sync()
	if closer != nil {
		_ = closer()
	}
	sugar = l.Sugar()
	closer = nil
	if rotate != nil {
		closer = rotate.Close
	}
	return nil
}

// Sync 刷新缓冲并关闭轮转文件，进程退出前调用
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = sugar.Sync()
	if closer != nil {
		_ = closer()
		closer = nil
	}
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debugf(template string, args ...any) { get().Debugf(template, args...) }

func Infof(template string, args ...any) { get().Infof(template, args...) }

func Warnf(template string, args ...any) { get().Warnf(template, args...) }

func Errorf(template string, args ...any) { get().Errorf(template, args...) }

// With 返回带固定字段的子 logger，用于单次运行内的关联日志（如 run_id）
func With(args ...any) *zap.SugaredLogger {
	return get().With(args...)
}

// HTTPLogger 适配 resty.Logger，resty 内部日志统一走 zap
type HTTPLogger struct {
	Prefix string
}

func (l HTTPLogger) Errorf(format string, v ...any) { get().Errorf(l.Prefix+format, v...) }

func (l HTTPLogger) Warnf(format string, v ...any) { get().Warnf(l.Prefix+format, v...) }

func (l HTTPLogger) Debugf(format string, v ...any) { get().Debugf(l.Prefix+format, v...) }
