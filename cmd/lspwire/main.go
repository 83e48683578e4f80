// Package main is the lspwire command, a small driver that launches a
// language server, opens files, and prints the diagnostics the server
// publishes for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/dshills/lspwire/internal/client"
	"github.com/dshills/lspwire/internal/config"
	"github.com/dshills/lspwire/internal/process"
	"github.com/dshills/lspwire/internal/protocol"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		rootPath    string
		waitFor     time.Duration
		debug       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&rootPath, "root", "", "Workspace root (overrides config)")
	flag.DurationVar(&waitFor, "wait", 3*time.Second, "How long to wait for diagnostics")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lspwire - language server protocol client\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lspwire -config <file> [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("lspwire %s (%s)\n", version, commit)
		return 0
	}
	if configPath == "" {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if rootPath != "" {
		if cfg.Root, err = filepath.Abs(rootPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	logger := zap.NewNop()
	if debug {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: logger: %v\n", err)
			return 1
		}
		defer func() { _ = logger.Sync() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := drive(ctx, cfg, logger, flag.Args(), waitFor); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func drive(ctx context.Context, cfg config.Config, logger *zap.Logger, files []string, waitFor time.Duration) error {
	caps, err := cfg.ClientCapabilities()
	if err != nil {
		return err
	}

	proc, err := process.Start(ctx, process.Command{
		Path: cfg.Server.Command,
		Args: cfg.Server.Args,
		Env:  cfg.Server.Env,
		Dir:  cfg.Server.Dir,
	}, logger)
	if err != nil {
		return err
	}

	diagCh := make(chan uri.URI, 16)
	cl := client.New(proc,
		client.WithLogger(logger),
		client.WithClientCapabilities(caps),
		client.WithRequestTimeout(cfg.RequestTimeout.Std()),
		client.WithRootPath(cfg.Root),
		client.WithTrace(cfg.Trace),
		client.WithClientInfo("lspwire", version),
		client.WithDiagnosticsHandler(func(docURI uri.URI, _ []protocol.Diagnostic) {
			select {
			case diagCh <- docURI:
			default:
			}
		}),
	)

	result, err := cl.Initialize(ctx)
	if err != nil {
		_ = proc.Stop(2 * time.Second)
		return err
	}
	if result.ServerInfo != nil {
		fmt.Printf("connected: %s %s\n", result.ServerInfo.Name, result.ServerInfo.Version)
	}

	for _, path := range files {
		if err := openFile(ctx, cl, path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", path, err)
		}
	}

	// Diagnostics arrive asynchronously; collect until quiet or the
	// deadline passes.
	if len(files) > 0 {
		collect(ctx, diagCh, waitFor)
		printDiagnostics(cl)
	}

	if err := cl.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	return proc.Stop(2 * time.Second)
}

func openFile(ctx context.Context, cl *client.Client, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	return cl.OpenDocument(ctx, uri.File(abs), languageID(abs), string(content))
}

func collect(ctx context.Context, diagCh <-chan uri.URI, waitFor time.Duration) {
	deadline := time.NewTimer(waitFor)
	defer deadline.Stop()
	for {
		select {
		case <-diagCh:
			// Keep collecting until the deadline; servers publish per
			// file.
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func printDiagnostics(cl *client.Client) {
	all := cl.AllDiagnostics()
	if len(all) == 0 {
		fmt.Println("no diagnostics")
		return
	}
	for docURI, diags := range all {
		for _, d := range diags {
			fmt.Printf("%s:%d:%d: [%s] %s\n",
				docURI.Filename(),
				d.Range.Start.Line+1,
				d.Range.Start.Character+1,
				severityName(d.Severity),
				d.Message)
		}
	}
}

func severityName(s protocol.DiagnosticSeverity) string {
	switch s {
	case protocol.DiagnosticSeverityError:
		return "error"
	case protocol.DiagnosticSeverityWarning:
		return "warning"
	case protocol.DiagnosticSeverityInformation:
		return "info"
	case protocol.DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

func languageID(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".ts":
		return "typescript"
	case ".tsx":
		return "typescriptreact"
	case ".js":
		return "javascript"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".md":
		return "markdown"
	default:
		return "plaintext"
	}
}
