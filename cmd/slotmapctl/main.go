package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/couchbase/stellar-slotmap/common/coordtree"
	"github.com/couchbase/stellar-slotmap/coordinator"
	"github.com/couchbase/stellar-slotmap/pkg/telemetry"
	"github.com/couchbase/stellar-slotmap/pkg/version"
	"github.com/couchbase/stellar-slotmap/utils/secretsmanager"
	"github.com/couchbase/stellar-slotmap/utils/sliceutils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// inProcEndpoint selects a throwaway in-memory tree instead of etcd.
const inProcEndpoint = "inproc"

var rootCmd = &cobra.Command{
	Version: version.GetVersion(),

	Use:   "slotmapctl",
	Short: "Manages the slot map and node registry of a storage cluster",

	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("etcd-endpoints", "localhost:2379", "comma separated etcd endpoints, or inproc for an in-memory tree")
	configFlags.String("etcd-prefix", "/slotmap", "the key prefix the tree is stored under")
	configFlags.String("etcd-user", "", "the etcd username")
	configFlags.String("etcd-pass", "", "the etcd password")
	configFlags.Duration("op-timeout", 10*time.Second, "timeout for each coordination tree operation")
	configFlags.Duration("store-timeout", 5*time.Second, "timeout for each storage node operation")
	configFlags.Duration("lock-timeout", 30*time.Second, "how long to wait for another instance holding the registry lock")
	configFlags.Int("agent-port", coordinator.DefaultAgentPort, "the port the memory agents listen on")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("trace-everything", false, "enables tracing of all operations")
	configFlags.String("etcd-creds-aws-id", "", "id of secret in aws sm storing etcd credentials")
	configFlags.String("etcd-creds-aws-region", "", "region of etcd-creds-aws-id secret")
	configFlags.String("etcd-creds-azure-id", "", "id of secret in azure kv storing etcd credentials")
	configFlags.String("etcd-creds-azure-vault-name", "", "name of key vault storing etcd-creds-azure-id")
	configFlags.String("etcd-creds-gcp-id", "", "id of secret in gcp sm storing etcd credentials")
	configFlags.String("etcd-creds-gcp-project-id", "", "id of project containing etcd-creds-gcp-id")
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("slotmap")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

// getLogger logs to stderr, stdout is reserved for command output.
func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stderr), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr             string
	etcdEndpoints           []string
	etcdPrefix              string
	etcdUser                string
	etcdPass                string
	opTimeout               time.Duration
	storeTimeout            time.Duration
	lockTimeout             time.Duration
	agentPort               int
	otlpEndpoint            string
	traceEverything         bool
	etcdCredsAwsId          string
	etcdCredsAwsRegion      string
	etcdCredsAzureId        string
	etcdCredsAzureVaultName string
	etcdCredsGcpId          string
	etcdCredsGcpProjectId   string
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:             viper.GetString("log-level"),
		etcdEndpoints:           sliceutils.SplitList(viper.GetString("etcd-endpoints")),
		etcdPrefix:              viper.GetString("etcd-prefix"),
		etcdUser:                viper.GetString("etcd-user"),
		etcdPass:                viper.GetString("etcd-pass"),
		opTimeout:               viper.GetDuration("op-timeout"),
		storeTimeout:            viper.GetDuration("store-timeout"),
		lockTimeout:             viper.GetDuration("lock-timeout"),
		agentPort:               viper.GetInt("agent-port"),
		otlpEndpoint:            viper.GetString("otlp-endpoint"),
		traceEverything:         viper.GetBool("trace-everything"),
		etcdCredsAwsId:          viper.GetString("etcd-creds-aws-id"),
		etcdCredsAwsRegion:      viper.GetString("etcd-creds-aws-region"),
		etcdCredsAzureId:        viper.GetString("etcd-creds-azure-id"),
		etcdCredsAzureVaultName: viper.GetString("etcd-creds-azure-vault-name"),
		etcdCredsGcpId:          viper.GetString("etcd-creds-gcp-id"),
		etcdCredsGcpProjectId:   viper.GetString("etcd-creds-gcp-project-id"),
	}

	logger.Debug("parsed configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.Strings("etcdEndpoints", config.etcdEndpoints),
		zap.String("etcdPrefix", config.etcdPrefix),
		zap.String("etcdUser", config.etcdUser),
		zap.Duration("opTimeout", config.opTimeout),
		zap.Duration("storeTimeout", config.storeTimeout),
		zap.Duration("lockTimeout", config.lockTimeout),
		zap.Int("agentPort", config.agentPort),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("traceEverything", config.traceEverything),
		zap.String("etcdCredsAwsId", config.etcdCredsAwsId),
		zap.String("etcdCredsAwsRegion", config.etcdCredsAwsRegion),
		zap.String("etcdCredsAzureId", config.etcdCredsAzureId),
		zap.String("etcdCredsAzureVaultName", config.etcdCredsAzureVaultName),
		zap.String("etcdCredsGcpId", config.etcdCredsGcpId),
		zap.String("etcdCredsGcpProjectId", config.etcdCredsGcpProjectId))

	return config
}

// fetchCredentials replaces the etcd credentials with ones held by a cloud
// secret manager when one is configured.
func (c *config) fetchCredentials(logger *zap.Logger) error {
	sources := 0
	for _, id := range []string{c.etcdCredsAwsId, c.etcdCredsAzureId, c.etcdCredsGcpId} {
		if id != "" {
			sources++
		}
	}
	if sources == 0 {
		return nil
	}
	if sources > 1 {
		return errors.New("only one cloud provider may be used to fetch etcd credentials")
	}
	if c.etcdUser != "" || c.etcdPass != "" {
		return errors.New("cannot use etcd-user or etcd-pass when fetching creds from cloud provider")
	}

	var err error
	switch {
	case c.etcdCredsAwsId != "":
		if c.etcdCredsAwsRegion == "" {
			return errors.New("must specify region and id when fetching secrets from aws")
		}

		logger.Info("fetching etcd credentials from aws secrets manager")
		c.etcdUser, c.etcdPass, err = secretsmanager.FetchAWSSecret(c.etcdCredsAwsId, c.etcdCredsAwsRegion)
	case c.etcdCredsAzureId != "":
		if c.etcdCredsAzureVaultName == "" {
			return errors.New("must specify key vault name and id when fetching secrets from azure")
		}

		logger.Info("fetching etcd credentials from azure key vault")
		c.etcdUser, c.etcdPass, err = secretsmanager.FetchAzureSecret(c.etcdCredsAzureId, c.etcdCredsAzureVaultName)
	case c.etcdCredsGcpId != "":
		if c.etcdCredsGcpProjectId == "" {
			return errors.New("must specify project and secret ids when fetching secrets from gcp")
		}

		logger.Info("fetching etcd credentials from gcp secrets manager")
		c.etcdUser, c.etcdPass, err = secretsmanager.FetchGcpSecret(c.etcdCredsGcpId, c.etcdCredsGcpProjectId)
	}

	return errors.Wrap(err, "failed to fetch etcd credentials")
}

// environment is everything a command needs to talk to the cluster.
type environment struct {
	logger      *zap.Logger
	coordinator *coordinator.Coordinator
	closers     []func()
}

func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newTree(logger *zap.Logger, config *config) (coordtree.Tree, func(), error) {
	if len(config.etcdEndpoints) == 1 && config.etcdEndpoints[0] == inProcEndpoint {
		logger.Warn("using an in-memory coordination tree, nothing will be persisted")
		return coordtree.NewInProcTree(), func() {}, nil
	}

	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   config.etcdEndpoints,
		Username:    config.etcdUser,
		Password:    config.etcdPass,
		DialTimeout: config.opTimeout,
		Logger:      logger.Named("etcd-client"),
		DialOptions: []grpc.DialOption{
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to etcd")
	}

	tree, err := coordtree.NewEtcdTree(coordtree.EtcdTreeOptions{
		Logger:     logger.Named("coordtree"),
		EtcdClient: etcdClient,
		KeyPrefix:  config.etcdPrefix,
		OpTimeout:  config.opTimeout,
	})
	if err != nil {
		_ = etcdClient.Close()
		return nil, nil, err
	}

	return tree, func() { _ = etcdClient.Close() }, nil
}

func setupEnvironment(ctx context.Context) (*environment, error) {
	logLevel, logger := getLogger()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load specified config file")
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	logger.Debug("starting slotmapctl", zap.String("version", version.GetVersion()))

	env := &environment{logger: logger}

	providers, err := telemetry.Init(ctx, telemetry.Options{
		Logger:          logger,
		ServiceName:     "stellar-slotmap-ctl",
		OtlpEndpoint:    config.otlpEndpoint,
		TraceEverything: config.traceEverything,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize opentelemetry")
	}
	env.closers = append(env.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := providers.Shutdown(shutdownCtx)
		if err != nil {
			logger.Debug("failed to flush telemetry", zap.Error(err))
		}
	})
	env.closers = append(env.closers, func() { _ = logger.Sync() })

	err = config.fetchCredentials(logger)
	if err != nil {
		env.Close()
		return nil, err
	}

	tree, closeTree, err := newTree(logger, config)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, closeTree)

	store := coordinator.NewSsdbStore(coordinator.SsdbStoreOptions{
		Logger:      logger.Named("store"),
		DialTimeout: config.storeTimeout,
		OpTimeout:   config.storeTimeout,
	})

	coord, err := coordinator.NewCoordinator(&coordinator.Config{
		Logger:      logger.Named("coordinator"),
		Tree:        tree,
		Store:       store,
		LockTimeout: config.lockTimeout,
		AgentPort:   config.agentPort,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.coordinator = coord

	return env, nil
}

// execute runs the command line, reporting argument errors with the same
// status object the commands themselves print.
func execute(args []string, out io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)

	err := rootCmd.Execute()
	if err != nil {
		writeStatus(out, err, "")
	}
	return err
}

func main() {
	if err := execute(os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}
