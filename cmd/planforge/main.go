// Package main provides the planforge command line tool.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parm-bits/stress-admin-ui/internal/config"
	"github.com/parm-bits/stress-admin-ui/internal/dataset"
	"github.com/parm-bits/stress-admin-ui/internal/definition"
	"github.com/parm-bits/stress-admin-ui/internal/logger"
	"github.com/parm-bits/stress-admin-ui/internal/manifest"
	"github.com/parm-bits/stress-admin-ui/internal/materialize"
	"github.com/parm-bits/stress-admin-ui/internal/metrics"
	"github.com/parm-bits/stress-admin-ui/internal/storage"
	"github.com/parm-bits/stress-admin-ui/internal/testplan"
	"go.uber.org/zap"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitWarnings = 3
)

type options struct {
	configPath   string
	planPath     string
	threadGroup  string
	server       string
	serverPreset string
	outPath      string
	mode         string
	report       bool
	validatePlan string
	estimate     string
	manifestPath string
	materialize  string
	list         bool
	deleteID     string
	prometheus   bool
	verbose      bool
	showVersion  bool
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("planforge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", "", "Path to a planforge config file (TOML or YAML)")
	fs.StringVar(&opts.configPath, "c", "", "Path to a planforge config file (shorthand)")

	fs.StringVar(&opts.planPath, "plan", "", "Test plan to transform")
	fs.StringVar(&opts.planPath, "p", "", "Test plan to transform (shorthand)")
	fs.StringVar(&opts.threadGroup, "thread-group", "", "Thread group configuration as JSON, or @file")
	fs.StringVar(&opts.server, "server", "", "Server configuration as JSON, or @file")
	fs.StringVar(&opts.serverPreset, "server-preset", "", "Name of a server preset from the config file")
	fs.StringVar(&opts.outPath, "out", "-", "Output path, - for stdout")
	fs.StringVar(&opts.outPath, "o", "-", "Output path (shorthand)")
	fs.StringVar(&opts.mode, "mode", string(testplan.ModeFull), "Transform mode: full or rewrite")
	fs.BoolVar(&opts.report, "report", false, "Print the transform report to stderr")

	fs.StringVar(&opts.validatePlan, "validate-plan", "", "Check the structure of a test plan and exit")
	fs.StringVar(&opts.estimate, "estimate", "", "Estimate the number of users a CSV file can drive")

	fs.StringVar(&opts.manifestPath, "manifest", "", "Create the definitions listed in a YAML manifest")
	fs.StringVar(&opts.materialize, "materialize", "", "Render a stored definition by ID")
	fs.BoolVar(&opts.list, "list", false, "List stored definitions")
	fs.StringVar(&opts.deleteID, "delete", "", "Delete a stored definition by ID")

	fs.BoolVar(&opts.prometheus, "prometheus", false, "Serve Prometheus metrics while running")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&opts.verbose, "v", false, "Enable debug logging (shorthand)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")

	fs.Usage = func() { printUsage(stderr) }
	return fs
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `planforge - test plan configuration tool

USAGE:
    planforge -plan <path> [-thread-group <json|@file>] [-server <json|@file>] [options]
    planforge -validate-plan <path>
    planforge -estimate <csv>
    planforge -manifest <yaml> | -materialize <id> | -list | -delete <id>

TRANSFORM OPTIONS:
    -plan, -p <path>          Test plan to transform
    -thread-group <json>      Thread group settings, inline JSON or @file
    -server <json>            Server target, inline JSON or @file
    -server-preset <name>     Use a server preset from the config file
    -mode <full|rewrite>      full creates missing properties and adds result
                              listeners; rewrite only changes existing values
    -out, -o <path>           Where to write the result (default stdout)
    -report                   Print the transform report to stderr

INSPECTION:
    -validate-plan <path>     Report structural warnings (exit 3 when any)
    -estimate <csv>           Print how many users a CSV file provides

STORED DEFINITIONS:
    -manifest <yaml>          Create every definition in the manifest
    -materialize <id>         Render a stored definition to -out
    -list                     List stored definitions
    -delete <id>              Delete a definition and its artifacts

GENERAL:
    -config, -c <path>        Config file (default: ./planforge.{toml,yaml})
    -prometheus               Serve metrics on metrics.port while running
    -verbose, -v              Enable debug logging
    -version                  Show version information

Settings can also be given as PLANFORGE_* environment variables,
for example PLANFORGE_STORAGE_DRIVER=s3.

EXAMPLES:
    planforge -plan checkout.jmx -thread-group '{"numberOfThreads":50}' \
        -server '{"protocol":"https","server":"qa.example.com"}' -o out.jmx -report

    planforge -plan out.jmx -mode rewrite -thread-group @tg.json -o out.jmx

    planforge -manifest batch.yaml -prometheus
`)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "planforge %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return exitOK
	}

	switch {
	case opts.estimate != "":
		return handleEstimate(opts, stdout, stderr)
	case opts.validatePlan != "":
		return handleValidate(opts, stdout, stderr)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	log, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating logger: %v\n", err)
		return exitError
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithContext(context.Background(), log)

	switch {
	case opts.manifestPath != "", opts.materialize != "", opts.list, opts.deleteID != "":
		return handleStored(ctx, cfg, opts, stdout, stderr)
	case opts.planPath != "":
		return handleTransform(ctx, cfg, opts, stdout, stderr)
	default:
		fmt.Fprintln(stderr, "Error: nothing to do, pass -plan or one of the other commands")
		fmt.Fprintln(stderr)
		printUsage(stderr)
		return exitUsage
	}
}

// newLogger sends console output to stderr of the caller so run stays
// testable. Files are opened by the logger package.
func newLogger(cfg *config.Config, stderr io.Writer) (*zap.Logger, error) {
	lc := &logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}
	switch strings.ToLower(cfg.Log.Output) {
	case "", "stderr":
		return logger.NewWithWriter(lc, stderr), nil
	}
	return logger.New(lc)
}

func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFrom(opts.configPath)
	}
	return config.Load()
}

func handleEstimate(opts options, stdout, stderr io.Writer) int {
	f, err := os.Open(opts.estimate)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer f.Close()

	users, err := dataset.EstimateUsers(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading %s: %v\n", opts.estimate, err)
		return exitError
	}
	fmt.Fprintln(stdout, users)
	return exitOK
}

func handleValidate(opts options, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(opts.validatePlan)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	warnings := testplan.ValidateStructure(string(data))
	if len(warnings) == 0 {
		fmt.Fprintf(stdout, "%s: ok\n", opts.validatePlan)
		return exitOK
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "%s: warning: %s\n", opts.validatePlan, w.Error())
	}
	return exitWarnings
}

func handleTransform(ctx context.Context, cfg *config.Config, opts options, stdout, stderr io.Writer) int {
	log := logger.FromContext(ctx)

	mode, err := testplan.ParseMode(opts.mode)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	doc, err := os.ReadFile(opts.planPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	tgRaw, err := readArg(opts.threadGroup)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading -thread-group: %v\n", err)
		return exitError
	}
	srvRaw, err := serverArg(cfg, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	exporter, stop, err := startMetrics(cfg, opts, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer stop()

	tg := testplan.LoadThreadGroupConfig(tgRaw, log)
	srv := testplan.LoadServerConfig(srvRaw, log)
	if exporter != nil {
		if tg.Fallback {
			exporter.RecordConfigFallback("thread group")
		}
		if srv.Fallback {
			exporter.RecordConfigFallback("server")
		}
	}

	start := time.Now()
	result := testplan.NewPipeline(testplan.WithMode(mode)).Transform(string(doc), tg.Config, srv.Config)
	if exporter != nil {
		exporter.RecordTransform(mode, result.Report, time.Since(start))
	}

	if err := writeOutput(opts.outPath, []byte(result.Document), stdout); err != nil {
		fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return exitError
	}
	if opts.report {
		fmt.Fprint(stderr, result.Report.String())
	}
	log.Debug("Plan transformed",
		zap.String("plan", opts.planPath),
		zap.String("mode", string(mode)),
		zap.String("target", srv.Config.URL()),
	)
	return exitOK
}

func handleStored(ctx context.Context, cfg *config.Config, opts options, stdout, stderr io.Writer) int {
	log := logger.FromContext(ctx)

	store, err := storage.New(ctx, &cfg.Storage, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening storage: %v\n", err)
		return exitError
	}
	db, err := definition.OpenSQLite(cfg.Database.Path, logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level)))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repo := definition.NewGormRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		fmt.Fprintf(stderr, "Error migrating database: %v\n", err)
		return exitError
	}

	downloadMode, err := testplan.ParseMode(cfg.Pipeline.DownloadMode)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	exporter, stop, err := startMetrics(cfg, opts, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer stop()

	svcOpts := []materialize.Option{
		materialize.WithLogger(log),
		materialize.WithDownloadMode(downloadMode),
	}
	if exporter != nil {
		svcOpts = append(svcOpts, materialize.WithRecorder(exporter))
	}
	svc := materialize.NewService(repo, store, svcOpts...)

	switch {
	case opts.manifestPath != "":
		return createFromManifest(ctx, cfg, svc, opts.manifestPath, stdout, stderr)
	case opts.materialize != "":
		id, err := uuid.Parse(opts.materialize)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid definition id %q\n", opts.materialize)
			return exitUsage
		}
		m, err := svc.Materialize(ctx, id)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		if err := writeOutput(opts.outPath, []byte(m.Document), stdout); err != nil {
			fmt.Fprintf(stderr, "Error writing output: %v\n", err)
			return exitError
		}
		if opts.report {
			fmt.Fprint(stderr, m.Report.String())
		}
		return exitOK
	case opts.deleteID != "":
		id, err := uuid.Parse(opts.deleteID)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid definition id %q\n", opts.deleteID)
			return exitUsage
		}
		if err := svc.Delete(ctx, id); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stdout, "deleted %s\n", id)
		return exitOK
	default:
		defs, err := svc.List(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		for _, d := range defs {
			csv := "-"
			if d.CSVKey != "" {
				csv = fmt.Sprintf("%d users", d.UserCount)
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", d.ID, d.Name, csv)
		}
		return exitOK
	}
}

func createFromManifest(ctx context.Context, cfg *config.Config, svc *materialize.Service, path string, stdout, stderr io.Writer) int {
	m, err := manifest.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	failed := 0
	for _, entry := range m.Definitions {
		req, err := buildRequest(cfg, m, entry)
		if err == nil {
			var created *materialize.Materialized
			created, err = svc.Create(ctx, req)
			if err == nil {
				fmt.Fprintf(stdout, "%s\t%s\n", created.Definition.ID, created.Definition.Name)
				continue
			}
		}
		failed++
		fmt.Fprintf(stderr, "Error creating %s: %v\n", entry.Name, err)
	}

	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d definitions failed\n", failed, len(m.Definitions))
		return exitError
	}
	return exitOK
}

func buildRequest(cfg *config.Config, m *manifest.Manifest, e manifest.Entry) (materialize.CreateRequest, error) {
	plan, err := os.ReadFile(m.Path(e.Plan))
	if err != nil {
		return materialize.CreateRequest{}, err
	}
	var csv []byte
	if e.CSV != "" {
		if csv, err = os.ReadFile(m.Path(e.CSV)); err != nil {
			return materialize.CreateRequest{}, err
		}
	}
	tg, err := e.ThreadGroupJSON()
	if err != nil {
		return materialize.CreateRequest{}, err
	}
	srv, err := e.ServerJSON(presetLookup(cfg))
	if err != nil {
		return materialize.CreateRequest{}, err
	}
	return materialize.CreateRequest{
		Name:        e.Name,
		Description: e.Description,
		Plan:        plan,
		CSV:         csv,
		RequiresCSV: e.RequiresCSV,
		Priority:    e.Priority,
		ThreadGroup: tg,
		Server:      srv,
	}, nil
}

func presetLookup(cfg *config.Config) manifest.PresetLookup {
	return func(name string) (manifest.Preset, bool) {
		p, ok := cfg.Preset(name)
		if !ok {
			return manifest.Preset{}, false
		}
		return manifest.Preset{Protocol: p.Protocol, Server: p.Server, Port: p.Port}, true
	}
}

// serverArg resolves -server and -server-preset into JSON text. Inline keys
// win over the preset.
func serverArg(cfg *config.Config, opts options) (string, error) {
	raw, err := readArg(opts.server)
	if err != nil {
		return "", fmt.Errorf("reading -server: %w", err)
	}
	if opts.serverPreset == "" {
		return raw, nil
	}

	var inline map[string]any
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &inline); err != nil {
			return "", fmt.Errorf("decode -server: %w", err)
		}
	}
	entry := manifest.Entry{Name: "command line", ServerPreset: opts.serverPreset, Server: inline}
	return entry.ServerJSON(presetLookup(cfg))
}

// readArg returns s, or the content of the file it names when it starts
// with @.
func readArg(s string) (string, error) {
	if name, ok := strings.CutPrefix(s, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return "", err
		}
		return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
	}
	return s, nil
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// startMetrics starts the exporter when requested on the command line or in
// the config file. The returned stop function is always safe to call.
func startMetrics(cfg *config.Config, opts options, log *zap.Logger) (*metrics.Exporter, func(), error) {
	if !opts.prometheus && !cfg.Metrics.Enabled {
		return nil, func() {}, nil
	}
	exporter := metrics.NewExporter(metrics.Config{Port: cfg.Metrics.Port, Path: cfg.Metrics.Path})
	if err := exporter.Start(); err != nil {
		return nil, nil, err
	}
	log.Info("Prometheus metrics available",
		zap.String("address", fmt.Sprintf("http://localhost:%d%s", exporter.Port(), exporter.Path())),
	)
	return exporter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Stop(ctx); err != nil {
			log.Warn("Failed to stop metrics endpoint", zap.Error(err))
		}
	}, nil
}
