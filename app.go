package gdexposure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Songmu/flextime"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/fujiwara/ridge"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/olekukonko/tablewriter"
	"github.com/shogo82148/go-retry"
	admin "google.golang.org/api/admin/reports/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// AppOption contains the immutable per-run configuration.
type AppOption struct {
	Lookback          time.Duration `help:"audit lookback window" default:"24h" env:"GDEXPOSURE_LOOKBACK"`
	PolicyFile        string        `help:"path to alerting policy file (local path, http(s) or s3 URL)" env:"GDEXPOSURE_POLICY_FILE"`
	VerifyConcurrency int           `help:"max concurrent live state checks" default:"1" env:"GDEXPOSURE_VERIFY_CONCURRENCY"`
}

// ScanOption contains options for the scan command.
type ScanOption struct {
	DryRun   bool   `help:"print confirmed exposures as a table instead of sending reports"`
	LockFile string `help:"acquire this lock file for the duration of the run, preventing overlapping scans" env:"GDEXPOSURE_LOCK_FILE"`

	Output io.Writer `kong:"-"`
}

// ServeOption contains options for the serve command.
type ServeOption struct {
	Port int `help:"scan trigger httpd port" default:"25280" env:"GDEXPOSURE_PORT"`
}

// App coordinates one scan pipeline: audit fetch, candidate extraction,
// live verification, owner grouping and report delivery.
type App struct {
	source   AuditSource
	verifier *Verifier
	reporter Reporter
	policy   *Policy
	opts     AppOption
	router   *mux.Router
}

// New creates an App. gcpOpts are applied to both the Reports API and the
// Drive API clients, after the read-only scopes each service needs.
func New(ctx context.Context, opts AppOption, reporter Reporter, gcpOpts ...option.ClientOption) (*App, error) {
	adminOpts := append([]option.ClientOption{
		option.WithScopes(admin.AdminReportsAuditReadonlyScope),
	}, gcpOpts...)
	adminSvc, err := admin.NewService(ctx, adminOpts...)
	if err != nil {
		return nil, fmt.Errorf("create Reports Service: %w", err)
	}
	driveOpts := append([]option.ClientOption{
		option.WithScopes(drive.DriveMetadataReadonlyScope),
	}, gcpOpts...)
	driveSvc, err := drive.NewService(ctx, driveOpts...)
	if err != nil {
		return nil, fmt.Errorf("create Google Drive Service: %w", err)
	}
	policy := DefaultPolicy()
	if opts.PolicyFile != "" {
		env, err := NewCELEnv()
		if err != nil {
			return nil, fmt.Errorf("create CEL environment: %w", err)
		}
		policy, err = LoadPolicy(ctx, opts.PolicyFile, env)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		slog.InfoContext(ctx, "policy loaded", "path", opts.PolicyFile, "excluded", len(policy.ExcludedDocIDs), "rules", len(policy.Rules))
	}
	app := &App{
		source:   NewReportsAuditSource(adminSvc),
		verifier: NewVerifier(NewDriveResolver(driveSvc), opts.VerifyConcurrency),
		reporter: reporter,
		policy:   policy,
		opts:     opts,
		router:   mux.NewRouter(),
	}
	app.setupRoute()
	return app, nil
}

// Scan executes one run of the detection pipeline. Only an audit fetch
// failure aborts the run; every other failure shrinks the result set.
func (app *App) Scan(ctx context.Context, opts ScanOption) error {
	if opts.LockFile != "" {
		release, err := acquireRunLock(ctx, opts.LockFile)
		if err != nil {
			return err
		}
		defer release()
	}
	runID := uuid.New().String()
	start := flextime.Now()
	since := start.Add(-app.opts.Lookback)
	slog.InfoContext(ctx, "scan started", "run_id", runID, "since", since.Format(time.RFC3339))

	events := make([]*admin.Activity, 0, auditPageSize)
	for activity, err := range app.source.Fetch(ctx, since) {
		if err != nil {
			slog.ErrorContext(ctx, "audit fetch failed, aborting run", "run_id", runID, "error", err)
			if alertErr := app.reporter.SendFetchAlert(ctx, err); alertErr != nil {
				slog.ErrorContext(ctx, "fetch alert delivery failed", "run_id", runID, "error", alertErr)
			}
			return err
		}
		events = append(events, activity)
	}
	if len(events) == 0 {
		slog.InfoContext(ctx, "no visibility change events in window, scan finished", "run_id", runID)
		return nil
	}
	slog.InfoContext(ctx, "audit fetch finished", "run_id", runID, "events", len(events))

	seen := make(map[string]struct{}, len(events))
	candidates := ExtractCandidates(ctx, events, seen, app.policy.ExcludedSet())
	if len(candidates) == 0 {
		slog.InfoContext(ctx, "no exposure candidates, scan finished", "run_id", runID)
		return nil
	}
	slog.InfoContext(ctx, "extraction finished", "run_id", runID, "candidates", len(candidates))

	confirmed := app.verifier.ConfirmAll(ctx, candidates)
	confirmed = Filter(confirmed, func(e *ConfirmedExposure) bool {
		return !app.policy.Suppressed(ctx, e)
	})
	if len(confirmed) == 0 {
		slog.InfoContext(ctx, "no exposures confirmed against live state, scan finished", "run_id", runID)
		return nil
	}
	slog.InfoContext(ctx, "verification finished", "run_id", runID, "confirmed", len(confirmed))

	reports := GroupByOwner(confirmed)
	if opts.DryRun {
		w := opts.Output
		if w == nil {
			w = os.Stdout
		}
		return renderExposureTable(w, confirmed)
	}
	var failed int
	for _, report := range reports {
		if err := app.reporter.SendReport(ctx, report); err != nil {
			slog.WarnContext(ctx, "report delivery failed", "run_id", runID, "owner", report.Owner, "error", err)
			failed++
			continue
		}
		slog.InfoContext(ctx, "report delivered", "run_id", runID, "owner", report.Owner, "exposures", len(report.Exposures))
	}
	slog.InfoContext(ctx, "scan finished",
		"run_id", runID,
		"events", len(events),
		"candidates", len(candidates),
		"confirmed", len(confirmed),
		"owners", len(reports),
		"failed_sends", failed,
		"elapsed", flextime.Now().Sub(start).String(),
	)
	return nil
}

// Serve runs the scan trigger endpoint: as a Lambda handler on AWS Lambda,
// as a local HTTP server otherwise.
func (app *App) Serve(ctx context.Context, opts ServeOption) error {
	if isLambda() {
		slog.InfoContext(ctx, "run on lambda")
		lambda.StartWithOptions(app.LambdaHandler(), lambda.WithContext(ctx))
		return nil
	}
	addr := fmt.Sprintf(":%d", opts.Port)
	slog.InfoContext(ctx, "run as local server", "address", addr)
	ridge.RunWithContext(ctx, addr, "/", app)
	return nil
}

func renderExposureTable(w io.Writer, exposures []*ConfirmedExposure) error {
	table := tablewriter.NewTable(w)
	table.Header("Owner", "Doc ID", "Title", "Exposure", "Kind", "URL")
	for _, e := range exposures {
		if err := table.Append(e.Owner, e.DocID, e.Title, e.Level.Label(), e.ItemKind.String(), e.URL); err != nil {
			return err
		}
	}
	return table.Render()
}

func acquireRunLock(ctx context.Context, path string) (func(), error) {
	fileLock := flock.New(path)
	policy := retry.Policy{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 1 * time.Second,
		MaxCount: 10,
		Jitter:   35 * time.Millisecond,
	}
	retrier := policy.Start(ctx)
	var err error
	var locked bool
	for retrier.Continue() {
		slog.DebugContext(ctx, "try run lock", "lock_file", path)
		locked, err = fileLock.TryLock()
		if err != nil {
			slog.DebugContext(ctx, "run lock attempt failed", "error", err)
			continue
		}
		if locked {
			break
		}
	}
	if !locked {
		if err == nil {
			err = errors.New("lock held by another run")
		}
		return nil, fmt.Errorf("cannot get run lock: %w", err)
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.DebugContext(ctx, "run lock release failed", "error", err)
		}
	}, nil
}
