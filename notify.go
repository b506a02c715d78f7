package gdexposure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/FabriceFx/gdexposure/pkg/exposureevent"
	"github.com/Songmu/flextime"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// ReporterOption contains configuration for alert delivery.
//
// Supported reporter types:
//   - "gmail": Sends one consolidated email per owner through the Gmail API
//     (default, recommended for production)
//   - "eventbridge": Publishes one event per owner report to an event bus
//   - "file": Appends reports to a local NDJSON file (suitable for development)
type ReporterOption struct {
	Type       string `help:"reporter type" default:"gmail" enum:"gmail,eventbridge,file" env:"GDEXPOSURE_REPORTER_TYPE"`
	Assistance string `help:"operations contact address, used as reply-to and fetch failure recipient" env:"GDEXPOSURE_ASSISTANCE_EMAIL"`
	SenderName string `help:"sender display name on outgoing mail" default:"Surveillance des partages Drive" env:"GDEXPOSURE_SENDER_NAME"`
	EventBus   string `help:"event bus name (eventbridge type only)" default:"default" env:"GDEXPOSURE_EVENTBRIDGE_EVENT_BUS"`
	ReportFile string `help:"report file path (file type only)" default:"gdexposure.json" env:"GDEXPOSURE_REPORT_FILE"`
}

// Reporter delivers owner exposure reports and run-level alerts.
//
// SendReport composes and sends exactly one message per owner report; a
// failure for one owner never prevents the remaining owners from being
// attempted. SendFetchAlert notifies the operations contact that the audit
// log could not be read and the run was aborted.
type Reporter interface {
	SendReport(ctx context.Context, report *OwnerReport) error
	SendFetchAlert(ctx context.Context, fetchErr error) error
}

// NewReporter creates a Reporter implementation based on the configuration
// type. Returns [GmailReporter], [EventBridgeReporter] or [FileReporter].
func NewReporter(ctx context.Context, cfg ReporterOption, gcpOpts ...option.ClientOption) (Reporter, error) {
	switch cfg.Type {
	case "gmail":
		return NewGmailReporter(ctx, cfg, gcpOpts...)
	case "eventbridge":
		return NewEventBridgeReporter(ctx, cfg)
	case "file":
		return NewFileReporter(ctx, cfg)
	}
	return nil, errors.New("unknown reporter type")
}

func loadAWSConfig() (aws.Config, error) {
	awsOpts := make([]func(*awsconfig.LoadOptions) error, 0)
	if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(context.Background(), awsOpts...)
}

// GmailReporter implements Reporter on the Gmail API. Messages are sent
// from the authenticated account with a fixed display name and the
// assistance address as reply-to.
type GmailReporter struct {
	svc        *gmail.Service
	sender     string
	senderName string
	assistance string
}

// NewGmailReporter creates a Gmail-based reporter. The sender address is
// read from the authenticated user's profile.
func NewGmailReporter(ctx context.Context, cfg ReporterOption, gcpOpts ...option.ClientOption) (*GmailReporter, error) {
	opts := append([]option.ClientOption{
		option.WithScopes(
			gmail.GmailSendScope,
			gmail.GmailMetadataScope,
		),
	}, gcpOpts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Gmail Service: %w", err)
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail API users:getProfile: %w", err)
	}
	return &GmailReporter{
		svc:        svc,
		sender:     profile.EmailAddress,
		senderName: cfg.SenderName,
		assistance: cfg.Assistance,
	}, nil
}

func (r *GmailReporter) SendReport(ctx context.Context, report *OwnerReport) error {
	rendered, err := RenderReport(report)
	if err != nil {
		return err
	}
	return r.send(ctx, report.Owner, rendered)
}

func (r *GmailReporter) SendFetchAlert(ctx context.Context, fetchErr error) error {
	if r.assistance == "" {
		slog.WarnContext(ctx, "assistance address is empty, fetch alert not sent")
		return nil
	}
	return r.send(ctx, r.assistance, RenderFetchAlert(fetchErr))
}

func (r *GmailReporter) send(ctx context.Context, to string, rendered *RenderedReport) error {
	raw := buildMIMEMessage(mailEnvelope{
		From:    r.sender,
		To:      to,
		ReplyTo: r.assistance,
	}, r.senderName, rendered)
	msg := &gmail.Message{
		Raw: base64.RawURLEncoding.EncodeToString(raw),
	}
	sent, err := r.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail API users.messages:send: %w", err)
	}
	slog.InfoContext(ctx, "report mail sent", "to", to, "message_id", sent.Id)
	return nil
}

// EventBridgeClient is the interface for Amazon EventBridge operations.
// This is satisfied by *eventbridge.Client.
type EventBridgeClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeReporter implements Reporter by publishing one event per owner
// report to an Amazon EventBridge event bus.
type EventBridgeReporter struct {
	client   EventBridgeClient
	eventBus string
}

// NewEventBridgeReporter creates a new EventBridge-based reporter.
func NewEventBridgeReporter(_ context.Context, cfg ReporterOption) (*EventBridgeReporter, error) {
	awsCfg, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}
	return &EventBridgeReporter{
		client:   eventbridge.NewFromConfig(awsCfg),
		eventBus: cfg.EventBus,
	}, nil
}

func (r *EventBridgeReporter) SendReport(ctx context.Context, report *OwnerReport) error {
	return r.putEvent(ctx, DetailTypeExposureReport, reportDetail(report))
}

func (r *EventBridgeReporter) SendFetchAlert(ctx context.Context, fetchErr error) error {
	return r.putEvent(ctx, DetailTypeFetchFailed, fetchAlertDetail(fetchErr))
}

func (r *EventBridgeReporter) putEvent(ctx context.Context, detailType string, detail *exposureevent.Detail) error {
	bs, err := json.Marshal(detail)
	if err != nil {
		slog.WarnContext(ctx, "detail marshal failed", "error", err)
		bs = []byte("{}")
	}
	source := "oss.gdexposure"
	if detail.Owner != "" {
		source = fmt.Sprintf("oss.gdexposure/%s", detail.Owner)
	}
	slog.DebugContext(ctx, "event", "source", source, "detail-type", detailType, "detail", string(bs))
	output, err := r.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(r.eventBus),
				Resources:    []string{},
				Source:       aws.String(source),
				DetailType:   aws.String(detailType),
				Time:         aws.Time(flextime.Now()),
				Detail:       aws.String(string(bs)),
			},
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "PutEvents failed", "error", err)
		return err
	}
	for _, entry := range output.Entries {
		if entry.ErrorCode != nil {
			slog.ErrorContext(ctx, "put event error", "event_bus", r.eventBus, "error_code", *entry.ErrorCode, "error_message", *entry.ErrorMessage)
			return fmt.Errorf("put events failed error_code=%s, error_message=%s", *entry.ErrorCode, *entry.ErrorMessage)
		}
		if entry.EventId != nil {
			slog.InfoContext(ctx, "put event", "event_bus", r.eventBus, "event_id", *entry.EventId)
		}
	}
	return nil
}

// FileReporter implements Reporter by appending reports to a local file as
// newline-delimited JSON (NDJSON format). Suitable for development and
// debugging.
type FileReporter struct {
	reportFile string
}

// NewFileReporter creates a new file-based report writer.
func NewFileReporter(_ context.Context, cfg ReporterOption) (*FileReporter, error) {
	return &FileReporter{
		reportFile: cfg.ReportFile,
	}, nil
}

func (r *FileReporter) SendReport(ctx context.Context, report *OwnerReport) error {
	return r.append(ctx, reportDetail(report))
}

func (r *FileReporter) SendFetchAlert(ctx context.Context, fetchErr error) error {
	return r.append(ctx, fetchAlertDetail(fetchErr))
}

func (r *FileReporter) append(ctx context.Context, detail *exposureevent.Detail) error {
	fp, err := os.OpenFile(r.reportFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		slog.DebugContext(ctx, "can not open report file", "report_file", r.reportFile, "error", err)
		return err
	}
	defer fp.Close()
	slog.InfoContext(ctx, "output report", "report_file", r.reportFile, "owner", coalesce(detail.Owner, "-"))
	return json.NewEncoder(fp).Encode(detail)
}

func reportDetail(report *OwnerReport) *exposureevent.Detail {
	return &exposureevent.Detail{
		Subject: fmt.Sprintf("%d publicly shared item(s) owned by %s", len(report.Exposures), report.Owner),
		Owner:   report.Owner,
		Exposures: Map(report.Exposures, func(e *ConfirmedExposure) *exposureevent.Exposure {
			return &exposureevent.Exposure{
				DocID:    e.DocID,
				Title:    e.Title,
				Owner:    e.Owner,
				URL:      e.URL,
				Level:    e.Level.String(),
				ItemKind: e.ItemKind.String(),
			}
		}),
	}
}

func fetchAlertDetail(fetchErr error) *exposureevent.Detail {
	return &exposureevent.Detail{
		Subject: "audit log fetch failed, scan run aborted",
		Error:   fetchErr.Error(),
	}
}
