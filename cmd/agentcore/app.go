package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentcore/pkg/config"
	"agentcore/pkg/credentials"
	"agentcore/pkg/logx"
	"agentcore/pkg/memory"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/vendors"
)

// PasswordEnv holds the secrets password for non-interactive use.
const PasswordEnv = "AGENTCORE_PASSWORD"

type globalFlags struct {
	projectDir  string
	debug       string
	tee         bool
	metricsAddr string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.projectDir, "projectdir", ".", "Project directory holding .agentcore/")
	fs.StringVar(&g.debug, "debug", "", "Enable debug logging for a comma-separated list of domains, or \"all\"")
	fs.BoolVar(&g.tee, "tee", false, "Write logs to stderr as well as the log file")
	fs.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

// app holds the process-wide services every command shares.
type app struct {
	cfg      config.Config
	dir      string
	creds    *credentials.Store
	registry *provider.Registry
	recorder metrics.Recorder
	memory   *memory.Store
	logger   *logx.Logger

	logFile *os.File
	server  *http.Server
}

func newApp(ctx context.Context, g *globalFlags, con *console, stderr io.Writer) (*app, error) {
	a := &app{dir: g.projectDir, logger: logx.NewLogger("cli")}
	if err := config.LoadConfig(g.projectDir); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = config.GetConfigOrDefault()

	if err := a.initLogging(g, stderr); err != nil {
		return nil, err
	}

	a.creds = credentials.NewStore()
	if credentials.Exists(g.projectDir) {
		password, err := con.password("Secrets password: ")
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.creds.Load(g.projectDir, password); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to unlock secrets: %w", err)
		}
	}

	a.recorder = metrics.Nop()
	if a.cfg.Metrics.Enabled || g.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(reg)
		if g.metricsAddr != "" {
			a.serveMetrics(ctx, g.metricsAddr, reg)
		}
	}
	a.registry = vendors.NewRegistry(a.cfg.Resilience, vendors.Options{Recorder: a.recorder})

	store, err := memory.Open(a.cfg.MemoryPath(g.projectDir))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	a.memory = store
	return a, nil
}

func (a *app) initLogging(g *globalFlags, stderr io.Writer) error {
	logsDir := filepath.Join(g.projectDir, config.ConfigDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logsDir, "agentcore.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f
	if g.tee {
		logx.SetOutput(io.MultiWriter(f, stderr))
	} else {
		logx.SetOutput(f)
	}
	switch g.debug {
	case "":
	case "all":
		logx.SetDebug(true)
	default:
		logx.SetDebug(true, strings.Split(g.debug, ",")...)
	}
	return nil
}

func (a *app) serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthz)
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		a.shutdownMetrics()
	}()
	a.logger.Info("Serving metrics on %s/metrics", addr)
}

// healthz answers GET with 200 OK for liveness checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (a *app) shutdownMetrics() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.server.Shutdown(ctx)
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.logger.Warn("failed to close memory store: %v", err)
		}
	}
	a.shutdownMetrics()
	if a.logFile != nil {
		logx.SetOutput(os.Stderr)
		_ = a.logFile.Close()
	}
}

// config builds the provider selection. Unset fields fall back to the configured
// defaults at resolution time.
func (p *providerFlags) config() (provider.Config, error) {
	kind, err := provider.ParseKind(p.kind)
	if err != nil {
		return provider.Config{}, err //nolint:wrapcheck // already a configuration error
	}
	cfg := provider.Config{
		Kind:             kind,
		ModelID:          p.model,
		CredentialRef:    p.credential,
		BaseURL:          p.baseURL,
		ReasoningEnabled: p.reasoning,
		ReasoningEffort:  p.effort,
		WebSearchEnabled: p.webSearch,
	}
	if p.temperature >= 0 {
		t := p.temperature
		cfg.Temperature = &t
	}
	return cfg, nil
}

type providerFlags struct {
	kind        string
	model       string
	baseURL     string
	credential  string
	reasoning   bool
	effort      string
	webSearch   bool
	temperature float64
}

func (p *providerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.kind, "provider", string(provider.KindAnthropic), "Provider kind (anthropic, openai, google, ollama, openrouter, groq, ...)")
	fs.StringVar(&p.model, "model", "", "Model id (default: the provider's configured default)")
	fs.StringVar(&p.baseURL, "base-url", "", "Override the provider base URL")
	fs.StringVar(&p.credential, "credential", "", "Secret name holding the API key (default: the provider's standard variable)")
	fs.BoolVar(&p.reasoning, "reasoning", false, "Enable extended reasoning where supported")
	fs.StringVar(&p.effort, "effort", "", "Reasoning effort: low, medium or high")
	fs.BoolVar(&p.webSearch, "web-search", false, "Enable web search")
	fs.Float64Var(&p.temperature, "temperature", -1, "Sampling temperature (negative means provider default)")
}
