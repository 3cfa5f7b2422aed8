package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchbase/stellar-slotmap/common/slotplan"
	"github.com/couchbase/stellar-slotmap/coordinator"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type statusJson struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func writeJson(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeStatus prints the single status object every command ends with.
func writeStatus(w io.Writer, err error, message string) {
	if err != nil {
		writeJson(w, statusJson{Action: "failure", Message: err.Error()})
		return
	}
	writeJson(w, statusJson{Action: "success", Message: message})
}

// runAction runs a mutating command, reporting its outcome as a status
// object.  The process exits non-zero on failure.
func runAction(fn func(ctx context.Context, env *environment) (string, error)) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		env, err := setupEnvironment(ctx)
		if err != nil {
			writeStatus(cmd.OutOrStdout(), err, "")
			os.Exit(1)
		}

		message, err := fn(ctx, env)
		if err != nil {
			env.logger.Error("command failed",
				zap.String("command", cmd.Name()),
				zap.Error(err))
		}
		env.Close()

		writeStatus(cmd.OutOrStdout(), err, message)
		if err != nil {
			os.Exit(1)
		}
	}
}

// runQuery runs a read-only command which prints its result as JSON.  A
// failure is reported the same way as for mutating commands.
func runQuery(fn func(ctx context.Context, env *environment) (interface{}, error)) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		env, err := setupEnvironment(ctx)
		if err != nil {
			writeStatus(cmd.OutOrStdout(), err, "")
			os.Exit(1)
		}

		result, err := fn(ctx, env)
		env.Close()

		if err != nil {
			writeStatus(cmd.OutOrStdout(), err, "")
			os.Exit(1)
		}

		writeJson(cmd.OutOrStdout(), result)
	}
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initializes the cluster from a node group file, replacing any existing topology",
	Run: runAction(func(ctx context.Context, env *environment) (string, error) {
		groups, err := env.coordinator.BootstrapFromFile(ctx, bootstrapFile)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("initialized %d node groups", len(groups)), nil
	}),
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Registers additional node groups from a node group file",
	Run: runAction(func(ctx context.Context, env *environment) (string, error) {
		groups, err := env.coordinator.AddNodesFromFile(ctx, addFile)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("added %d node groups starting at index %d", len(groups), groups[0].Index), nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Writes the slot map to a snapshot file",
	Run: runAction(func(ctx context.Context, env *environment) (string, error) {
		path, err := env.coordinator.ExportSnapshot(ctx, exportDir)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("exported slot map to %s", path), nil
	}),
}

// proxyStatus reports an already registered proxy as a failure so scripts
// can tell a new registration from a repeated one.
func proxyStatus(created bool, host string, port int) (string, error) {
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))
	if !created {
		return "", errors.Errorf("proxy %s already registered", endpoint)
	}
	return fmt.Sprintf("registered proxy %s", endpoint), nil
}

var registerProxyCmd = &cobra.Command{
	Use:   "register-proxy",
	Short: "Registers a proxy endpoint",
	Run: runAction(func(ctx context.Context, env *environment) (string, error) {
		created, err := env.coordinator.RegisterProxy(ctx, proxyHost, proxyPort)
		if err != nil {
			return "", err
		}

		return proxyStatus(created, proxyHost, proxyPort)
	}),
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Reports the memory usage of every storage node",
	Run: runQuery(func(ctx context.Context, env *environment) (interface{}, error) {
		return env.coordinator.QueryHealth(ctx)
	}),
}

type nodeJson struct {
	Num       int    `json:"num"`
	Status    int    `json:"status"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	SlaveIP   string `json:"slave_ip"`
	SlavePort int    `json:"slave_port"`
}

var listNodesCmd = &cobra.Command{
	Use:   "list-nodes",
	Short: "Lists every registered node group",
	Run: runQuery(func(ctx context.Context, env *environment) (interface{}, error) {
		groups, err := env.coordinator.ListNodes(ctx)
		if err != nil {
			return nil, err
		}

		nodes := make([]nodeJson, 0, len(groups))
		for _, group := range groups {
			nodes = append(nodes, nodeJson{
				Num:       group.Index,
				Status:    group.Status,
				IP:        group.MasterIP,
				Port:      group.MasterPort,
				SlaveIP:   group.SlaveIP,
				SlavePort: group.SlavePort,
			})
		}
		return nodes, nil
	}),
}

type proxyJson struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

var listProxiesCmd = &cobra.Command{
	Use:   "list-proxies",
	Short: "Lists every registered proxy",
	Run: runQuery(func(ctx context.Context, env *environment) (interface{}, error) {
		endpoints, err := env.coordinator.ListProxies(ctx)
		if err != nil {
			return nil, err
		}

		proxies := make([]proxyJson, 0, len(endpoints))
		for _, endpoint := range endpoints {
			proxies = append(proxies, proxyJson{Host: endpoint.Host, Port: endpoint.Port})
		}
		return proxies, nil
	}),
}

type slotRangeJson struct {
	NodeIndex int  `json:"node_index"`
	Start     int  `json:"start"`
	End       int  `json:"end"`
	Count     int  `json:"count"`
	Migrating bool `json:"migrating"`
}

// list-slots reads a published snapshot and needs no cluster connection.
var listSlotsCmd = &cobra.Command{
	Use:   "list-slots",
	Short: "Shows slot ownership from a published snapshot file",
	Run: func(cmd *cobra.Command, args []string) {
		assignment, err := coordinator.ReadSnapshot(filepath.Join(listSlotsDir, coordinator.SnapshotFileName))
		if err != nil {
			writeStatus(cmd.OutOrStdout(), errors.Wrap(err, "failed to read snapshot"), "")
			os.Exit(1)
		}

		ranges := slotplan.Ranges(assignment)
		out := make([]slotRangeJson, 0, len(ranges))
		for _, r := range ranges {
			out = append(out, slotRangeJson{
				NodeIndex: r.NodeIndex,
				Start:     r.Start,
				End:       r.End,
				Count:     r.Len(),
				Migrating: r.Migrating,
			})
		}

		writeJson(cmd.OutOrStdout(), out)
	},
}

var bootstrapFile string
var addFile string
var exportDir string
var listSlotsDir string
var proxyHost string
var proxyPort int

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapFile, "file", "", "the node group file to initialize from")
	_ = bootstrapCmd.MarkFlagRequired("file")

	addCmd.Flags().StringVar(&addFile, "file", "", "the node group file to add")
	_ = addCmd.MarkFlagRequired("file")

	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "the directory to write the snapshot into")

	listSlotsCmd.Flags().StringVar(&listSlotsDir, "dir", ".", "the directory holding the snapshot")

	registerProxyCmd.Flags().StringVar(&proxyHost, "host", "", "the proxy host")
	registerProxyCmd.Flags().IntVar(&proxyPort, "port", 0, "the proxy port")
	_ = registerProxyCmd.MarkFlagRequired("host")
	_ = registerProxyCmd.MarkFlagRequired("port")

	rootCmd.AddCommand(
		bootstrapCmd,
		addCmd,
		exportCmd,
		registerProxyCmd,
		healthCmd,
		listNodesCmd,
		listProxiesCmd,
		listSlotsCmd,
	)
}
