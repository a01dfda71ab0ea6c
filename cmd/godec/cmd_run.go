package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/godec/internal/config"
	"github.com/user/godec/internal/loopback"
	"github.com/user/godec/internal/record"
	"github.com/user/godec/pkg/godec"
	"github.com/user/godec/pkg/message"
)

type runFlags struct {
	push        []string
	pull        []string
	set         []string
	input       []string
	timeout     time.Duration
	recordPath  string
	quiet       bool
	metricsAddr string
}

var runOpts runFlags

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringArrayVar(&runOpts.push, "push", nil, "push endpoint to register (repeatable)")
	f.StringArrayVar(&runOpts.pull, "pull", nil, "pull endpoint as name=stream1,stream2 (repeatable; default: every topology output)")
	f.StringArrayVar(&runOpts.set, "set", nil, "override as route.param=value (repeatable)")
	f.StringArrayVar(&runOpts.input, "input", nil, "endpoint=file.jsonl of message envelopes to push (repeatable)")
	f.DurationVar(&runOpts.timeout, "timeout", 0, "pull timeout (default from config)")
	f.StringVar(&runOpts.recordPath, "record", "", "append every pulled batch to this JSONL file")
	f.BoolVar(&runOpts.quiet, "quiet", false, "only log warnings and errors")
	f.StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

var runCmd = &cobra.Command{
	Use:   "run <topology>",
	Short: "Load a topology, push input files and print pulled batches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runTopology(ctx, cfg, args[0], runOpts, cmd.OutOrStdout())
	},
}

// parseKV splits "key=value"; value may be empty but key may not.
func parseKV(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("%q: want key=value", s)
	}
	return k, v, nil
}

func parsePull(specs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, s := range specs {
		name, streams, err := parseKV(s)
		if err != nil {
			return nil, fmt.Errorf("--pull %w", err)
		}
		var list []string
		for _, st := range strings.Split(streams, ",") {
			if st = strings.TrimSpace(st); st != "" {
				list = append(list, st)
			}
		}
		out[name] = list
	}
	return out, nil
}

func readEnvelopes(path string) ([]message.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []message.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		m, err := message.Unmarshal(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, scanner.Err()
}

type printedBatch struct {
	Endpoint string                      `json:"endpoint"`
	Messages map[string]message.Envelope `json:"messages"`
}

func runTopology(ctx context.Context, cfg *config.Config, topology string, opts runFlags, stdout io.Writer) error {
	topo, err := loopback.LoadTopology(topology)
	if err != nil {
		return err
	}

	inputs := make(map[string][]message.Message)
	for _, spec := range opts.input {
		ep, path, err := parseKV(spec)
		if err != nil {
			return fmt.Errorf("--input %w", err)
		}
		msgs, err := readEnvelopes(path)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		inputs[ep] = append(inputs[ep], msgs...)
	}

	push := godec.NewPushEndpoints(opts.push...)
	for ep := range inputs {
		if err := push.Add(ep); err != nil {
			return err
		}
	}

	pullSpec, err := parsePull(opts.pull)
	if err != nil {
		return err
	}
	if len(pullSpec) == 0 {
		pullSpec = topo.Outputs
	}
	pull := godec.NewPullEndpoints()
	for name, streams := range pullSpec {
		if err := pull.Add(name, streams...); err != nil {
			return err
		}
	}

	ov := godec.NewOverrides()
	for _, s := range opts.set {
		k, v, err := parseKV(s)
		if err != nil {
			return fmt.Errorf("--set %w", err)
		}
		if err := ov.Add(k, v); err != nil {
			return err
		}
	}

	sessionOpts := []godec.Option{
		godec.WithLogger(slog.Default()),
		godec.WithLaneDepth(cfg.Session.LaneDepth),
		godec.WithMaxConcurrentDeliveries(cfg.Session.MaxConcurrent),
		godec.WithStreamDepth(cfg.Session.StreamDepth),
	}
	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sessionOpts = append(sessionOpts, godec.WithRegisterer(reg))
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		slog.Info("serving metrics", "addr", metricsAddr)
	}

	var rec *record.Recorder
	if opts.recordPath != "" {
		if rec, err = record.Open(opts.recordPath); err != nil {
			return err
		}
	}

	quiet := opts.quiet || cfg.Quiet
	session, err := godec.Load(ctx, loopback.New(nil), topology, ov, push, pull, quiet, sessionOpts...)
	if err != nil {
		return err
	}

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = cfg.PullTimeout()
	}

	var outMu sync.Mutex
	enc := json.NewEncoder(stdout)
	emit := func(endpoint string, b godec.Batch) error {
		msgs := make(map[string]message.Envelope, len(b))
		for stream, m := range b {
			env, err := message.ToEnvelope(m)
			if err != nil {
				return err
			}
			msgs[stream] = env
		}
		outMu.Lock()
		defer outMu.Unlock()
		if err := enc.Encode(printedBatch{Endpoint: endpoint, Messages: msgs}); err != nil {
			return err
		}
		if rec != nil {
			if _, err := rec.Append(endpoint, b); err != nil {
				return err
			}
		}
		return nil
	}

	pullers, pullCtx := errgroup.WithContext(ctx)
	for _, name := range pull.Names() {
		pullers.Go(func() error {
			for {
				b, err := session.Pull(name, timeout)
				switch {
				case err == nil:
					if err := emit(name, b); err != nil {
						return err
					}
				case godec.IsTimeout(err):
					slog.Debug("pull timed out", "endpoint", name)
				case errors.Is(err, godec.ErrSessionClosed):
					return nil
				default:
					return fmt.Errorf("pull %s: %w", name, err)
				}
			}
		})
	}

	pushers, pushCtx := errgroup.WithContext(pullCtx)
	endpoints := make([]string, 0, len(inputs))
	for ep := range inputs {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	for _, ep := range endpoints {
		pushers.Go(func() error {
			for _, m := range inputs[ep] {
				if _, err := session.Push(pushCtx, ep, m); err != nil {
					return fmt.Errorf("push %s: %w", ep, err)
				}
			}
			slog.Info("input pushed", "endpoint", ep, "messages", len(inputs[ep]))
			return nil
		})
	}
	pushErr := pushers.Wait()

	// pullCtx ends on a signal or a failed puller
	shutdownCtx := pullCtx
	if d := cfg.ShutdownTimeout(); d > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, d)
		defer cancel()
	}
	shutdownErr := session.Shutdown(shutdownCtx)
	pullErr := pullers.Wait()

	return errors.Join(pushErr, shutdownErr, pullErr)
}
