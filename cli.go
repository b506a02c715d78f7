package gdexposure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/mashiike/gcreds4aws"
	"github.com/mashiike/slogutils"
)

// Version is set by the build.
var Version = "current"

// CLI is the command-line interface for gdexposure.
//
// Use the Run method to execute the CLI:
//
//	var cli gdexposure.CLI
//	ctx := context.Background()
//	exitCode := cli.Run(ctx)
//
// Available commands:
//   - scan: Scan the audit log and alert owners of publicly shared items (default)
//   - serve: Start the scan trigger server
//   - validate: Validate an alerting policy file
type CLI struct {
	LogLevel  string           `help:"log level" default:"info" env:"GDEXPOSURE_LOG_LEVEL"`
	LogFormat string           `help:"log format" default:"text" enum:"text,json" env:"GDEXPOSURE_LOG_FORMAT"`
	LogColor  bool             `help:"enable color output" default:"true" env:"GDEXPOSURE_LOG_COLOR" negatable:""`
	Version   kong.VersionFlag `help:"show version"`
	Reporter  ReporterOption   `embed:"" prefix:"reporter-"`
	AppOption `embed:""`

	Scan     ScanOption     `cmd:"" help:"scan the audit log and alert owners of publicly shared items" default:"true"`
	Serve    ServeOption    `cmd:"" help:"serve the scan trigger endpoint"`
	Validate ValidateOption `cmd:"" help:"validate an alerting policy file"`
}

// ValidateOption contains options for the validate command.
type ValidateOption struct {
	PolicyFile string `arg:"" name:"policy-file" optional:"" help:"path to alerting policy file (overrides --policy-file)"`
}

// Run parses command-line arguments and executes the appropriate command.
// Returns 0 on success, 1 on error.
func (c *CLI) Run(ctx context.Context) int {
	k := kong.Parse(c,
		kong.Name("gdexposure"),
		kong.Description("gdexposure scans the Google Workspace audit log for publicly shared Drive items and alerts their owners."),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
	)
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(c.LogLevel)); err != nil {
		k.Fatalf("invalid log level: %s", c.LogLevel)
	}
	logger := newLogger(logLevel, c.LogFormat, c.LogColor)
	slog.SetDefault(logger)
	if err := c.run(ctx, k); err != nil {
		slog.Error("runtime error", "details", err)
		return 1
	}
	return 0
}

func (c *CLI) run(ctx context.Context, k *kong.Context) error {
	cmd := k.Command()
	if cmd == "version" {
		fmt.Printf("gdexposure version %s\n", Version)
		return nil
	}
	// validate command doesn't need App initialization
	if cmd == "validate" || cmd == "validate <policy-file>" {
		return c.runValidate(ctx)
	}
	app, err := c.newApp(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := gcreds4aws.Close(); err != nil {
			slog.WarnContext(ctx, "gcreds cleanup error", "details", err)
		}
	}()
	switch cmd {
	case "scan", "":
		return app.Scan(ctx, c.Scan)
	case "serve":
		return app.Serve(ctx, c.Serve)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *CLI) runValidate(ctx context.Context) error {
	policyPath := c.Validate.PolicyFile
	if policyPath == "" {
		policyPath = c.PolicyFile
	}
	if policyPath == "" {
		return fmt.Errorf("no policy file specified; use --policy-file or provide a path as argument")
	}
	env, err := NewCELEnv()
	if err != nil {
		return fmt.Errorf("create CEL environment: %w", err)
	}
	slog.InfoContext(ctx, "validating alerting policy", "path", policyPath)
	policy, err := LoadPolicy(ctx, policyPath, env)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	slog.InfoContext(ctx, "policy is valid",
		"excluded_doc_ids", len(policy.ExcludedDocIDs),
		"rules", len(policy.Rules),
	)
	for i, rule := range policy.Rules {
		slog.InfoContext(ctx, "rule validated",
			"index", i,
			"when", rule.When,
			"reason", coalesce(rule.Reason, "-"),
		)
	}
	fmt.Println("✓ Policy is valid")
	return nil
}

func (c *CLI) newApp(ctx context.Context) (*App, error) {
	reporter, err := NewReporter(ctx, c.Reporter, gcreds4aws.WithCredentials(ctx))
	if err != nil {
		return nil, fmt.Errorf("create Reporter: %w", err)
	}
	return New(ctx, c.AppOption, reporter, gcreds4aws.WithCredentials(ctx))
}

func newLogger(level slog.Level, format string, c bool) *slog.Logger {
	var f func(io.Writer, *slog.HandlerOptions) slog.Handler
	switch format {
	case "json":
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewJSONHandler(w, ho)
		}
	default:
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewTextHandler(w, ho)
		}
	}
	var modifierFuncs map[slog.Level]slogutils.ModifierFunc
	if c {
		modifierFuncs = map[slog.Level]slogutils.ModifierFunc{
			slog.LevelDebug: slogutils.Color(color.FgBlack),
			slog.LevelInfo:  nil,
			slog.LevelWarn:  slogutils.Color(color.FgYellow),
			slog.LevelError: slogutils.Color(color.FgRed, color.Bold),
		}
	}
	var addSource bool
	if level == slog.LevelDebug {
		addSource = true
	}
	middleware := slogutils.NewMiddleware(
		f,
		slogutils.MiddlewareOptions{
			Writer:        os.Stderr,
			ModifierFuncs: modifierFuncs,
			HandlerOptions: &slog.HandlerOptions{
				Level:     level,
				AddSource: addSource,
			},
			RecordTransformerFuncs: []slogutils.RecordTransformerFunc{
				slogutils.ConvertLegacyLevel(
					map[string]slog.Level{
						"debug": slog.LevelDebug,
						"info":  slog.LevelInfo,
						"warn":  slog.LevelWarn,
						"error": slog.LevelError,
					},
					true,
				),
			},
		},
	)
	return slog.New(middleware)
}
