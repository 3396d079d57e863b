// =============================================================================
// DocPilot 主入口
// =============================================================================
// 文档问答引擎命令行入口，包含文档入库、查询和状态查看
//
// 使用方法:
//
//	docpilot ingest ./docs                  # 入库一个文档目录
//	docpilot query "how do I rotate keys"   # 回答一个问题
//	docpilot stats                          # 查看缓存与存储状态
//	docpilot version                        # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/docpilot/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置
func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader().WithValidator(config.Validate)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// =============================================================================
// 📥 ingest 命令
// =============================================================================

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall ingest timeout")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: docpilot ingest <directory> [--config path]")
		os.Exit(1)
	}
	dir := fs.Arg(0)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	docs, err := app.loaders.LoadDir(ctx, dir)
	if err != nil {
		logger.Fatal("failed to load documents", zap.Error(err))
	}
	if len(docs) == 0 {
		logger.Warn("no loadable documents found", zap.String("dir", dir))
		return
	}

	chunks, err := app.pipeline.Ingest(ctx, docs)
	if err != nil {
		logger.Fatal("ingest failed", zap.Error(err))
	}

	logger.Info("ingest completed",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", chunks))
	fmt.Printf("Indexed %d documents (%d chunks)\n", len(docs), chunks)
}

// =============================================================================
// ❓ query 命令
// =============================================================================

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sideContext := fs.String("context", "", "Extra context passed alongside the question")
	timeout := fs.Duration("timeout", 60*time.Second, "Query timeout")
	asJSON := fs.Bool("json", false, "Print the full answer as JSON")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: docpilot query <question> [--config path]")
		os.Exit(1)
	}
	question := fs.Arg(0)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	answer, err := app.pipeline.Answer(ctx, question, nil, *sideContext)
	if err != nil {
		logger.Fatal("query failed", zap.Error(err))
	}

	if *asJSON {
		out, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Println(answer.Answer)
	for i, src := range answer.Sources {
		heading := src.HeadingPath
		if heading == "" {
			heading = "(document)"
		}
		fmt.Printf("  [%d] %s (score %.2f)\n", i+1, heading, src.Score)
	}
	if answer.Cached {
		fmt.Printf("  (served from %s cache)\n", answer.CacheLayer)
	}
}

// =============================================================================
// 📊 stats 命令
// =============================================================================

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report := map[string]any{
		"stats":  app.pipeline.Stats(),
		"health": app.pipeline.HealthCheck(ctx),
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("DocPilot %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DocPilot - Documentation QA Engine

Usage:
  docpilot <command> [options]

Commands:
  ingest    Chunk and index a directory of documents
  query     Answer a question against the indexed docs
  stats     Show cache and vector store status
  version   Show version information
  help      Show this help message

Options:
  --config <path>    Path to configuration file (YAML)

Options for 'query':
  --context <text>   Extra context passed alongside the question
  --json             Print the full answer as JSON

Examples:
  docpilot ingest ./docs
  docpilot ingest ./docs --config /etc/docpilot/config.yaml
  docpilot query "how do I rotate my api key"
  docpilot query "webhook retries" --json
  docpilot stats`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
