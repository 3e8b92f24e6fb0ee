package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MetalBlockchain/pulseprof/client"
	"github.com/MetalBlockchain/pulseprof/engine"
	"github.com/MetalBlockchain/pulseprof/report"
	"github.com/MetalBlockchain/pulseprof/status"
	"github.com/MetalBlockchain/pulseprof/vm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	outputKey = "output"
	remoteKey = "remote"
	strictKey = "strict"
)

var errProgramFailed = errors.New("program did not succeed")

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program.wasm>",
		Short: "Run a program once and print its profiling report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringP(outputKey, "o", string(report.Table), "Report format: table, json or yaml")
	cmd.Flags().String(remoteKey, "", "URI of a pulseprof server to run the program on instead of locally")
	cmd.Flags().Bool(strictKey, false, "Exit with an error unless the program succeeded")
	return cmd
}

func run(ctx context.Context, v *viper.Viper, path string, out io.Writer) error {
	format, err := report.ParseFormat(v.GetString(outputKey))
	if err != nil {
		return err
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("couldn't read program: %w", err)
	}

	var r *engine.Report
	if remote := v.GetString(remoteKey); remote != "" {
		r, err = runRemote(ctx, v, strings.TrimRight(remote, "/"), code)
	} else {
		r, err = runLocal(ctx, v, code)
	}
	if err != nil {
		return err
	}

	if err := report.Write(out, format, r); err != nil {
		return err
	}
	if v.GetBool(strictKey) && r.Status != status.Succeeded {
		return fmt.Errorf("%w: %s", errProgramFailed, r.Status)
	}
	return nil
}

func runLocal(ctx context.Context, v *viper.Viper, code []byte) (*engine.Report, error) {
	log, err := newLogger(v)
	if err != nil {
		return nil, err
	}
	defer log.Stop()

	cfgBytes, err := configBytes(v)
	if err != nil {
		return nil, err
	}

	profiler := &vm.VM{}
	if err := profiler.Initialize(ctx, log, prometheus.NewRegistry(), cfgBytes); err != nil {
		return nil, err
	}
	defer profiler.Shutdown(ctx)

	return profiler.Profile(ctx, code, 0)
}

// runRemote sends [code] to a server. Only the compute budget can be
// overridden per request; other execution settings are the server's.
func runRemote(ctx context.Context, v *viper.Viper, uri string, code []byte) (*engine.Report, error) {
	var budget uint64
	if v.IsSet(computeBudgetKey) {
		budget = v.GetUint64(computeBudgetKey)
	}
	return client.New(uri).Profile(ctx, code, budget)
}
