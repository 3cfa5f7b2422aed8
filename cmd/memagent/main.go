package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/couchbase/stellar-slotmap/pkg/memagent"
	"github.com/couchbase/stellar-slotmap/pkg/telemetry"
	"github.com/couchbase/stellar-slotmap/pkg/version"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Version: version.GetVersion(),

	Use:   "memagent",
	Short: "Reports the memory usage of local storage processes over http",

	Run: func(cmd *cobra.Command, args []string) {
		startAgent()
	},
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("port", memagent.DefaultPort, "the http port")
	configFlags.String("proc-root", "/proc", "the procfs mount to inspect")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("debug", false, "enable debug mode")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("memagent")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr        string
	bindAddress        string
	port               int
	procRoot           string
	otlpEndpoint       string
	disableOtlpTraces  bool
	disableOtlpMetrics bool
	debug              bool
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:        viper.GetString("log-level"),
		bindAddress:        viper.GetString("bind-address"),
		port:               viper.GetInt("port"),
		procRoot:           viper.GetString("proc-root"),
		otlpEndpoint:       viper.GetString("otlp-endpoint"),
		disableOtlpTraces:  viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics: viper.GetBool("disable-otlp-metrics"),
		debug:              viper.GetBool("debug"),
	}

	logger.Info("parsed agent configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("port", config.port),
		zap.String("procRoot", config.procRoot),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("debug", config.debug))

	return config
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		return zapcore.InfoLevel
	}
	return level
}

func startAgent() {
	logLevel, logger := getLogger()

	logger.Info("starting memagent", zap.String("version", version.GetVersion()))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)
	logLevel.SetLevel(parseLogLevel(logger, config.logLevelStr))

	providers, err := telemetry.Init(context.Background(), telemetry.Options{
		Logger:         logger,
		ServiceName:    "stellar-slotmap-memagent",
		OtlpEndpoint:   config.otlpEndpoint,
		DisableTraces:  config.disableOtlpTraces,
		DisableMetrics: config.disableOtlpMetrics,
		Prometheus:     true,
	})
	if err != nil {
		logger.Error("failed to initialize opentelemetry", zap.Error(err))
		os.Exit(1)
	}

	agent := memagent.NewServer(memagent.ServerOptions{
		Logger:   logger.Named("memagent"),
		LogLevel: &logLevel,
		Source:   &memagent.ProcFS{Root: config.procRoot},
		Debug:    config.debug,
	})

	lis, err := net.Listen("tcp", net.JoinHostPort(config.bindAddress, fmt.Sprint(config.port)))
	if err != nil {
		logger.Error("failed to listen", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("agent listening", zap.Stringer("address", lis.Addr()))

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file",
				zap.Error(err))
		}

		newConfig := readConfig(logger)

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.port != config.port ||
			newConfig.procRoot != config.procRoot {
			logger.Warn("config changes for bindAddress, port, or procRoot require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpTraces != config.disableOtlpTraces ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics {
			logger.Warn("config changes for otlpEndpoint, disableOtlpTraces, or disableOtlpMetrics require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newLevel := parseLogLevel(logger, newConfig.logLevelStr)
			logLevel.SetLevel(newLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newLevel.String()))
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
				continue
			}

			logger.Info("Received signal, attempting graceful shutdown...",
				zap.String("signal", sig.String()))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := agent.Shutdown(ctx)
			cancel()
			if err != nil {
				logger.Warn("failed to shutdown gracefully", zap.Error(err))
				os.Exit(1)
			}
		}
	}()

	err = agent.Serve(lis)
	if err != nil {
		logger.Error("failed to serve", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = providers.Shutdown(ctx)
	cancel()

	logger.Info("memagent shutdown gracefully")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
