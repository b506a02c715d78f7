package gdexposure

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/FabriceFx/gdexposure/pkg/exposureevent"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewReporterUnknownType(t *testing.T) {
	_, err := NewReporter(context.Background(), ReporterOption{Type: "carrier-pigeon"})
	require.Error(t, err)
}

func TestFileReporter(t *testing.T) {
	reportFile := filepath.Join(t.TempDir(), "reports.json")
	reporter, err := NewFileReporter(context.Background(), ReporterOption{ReportFile: reportFile})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, reporter.SendReport(ctx, &OwnerReport{
		Owner: "a@x.com",
		Exposures: []*ConfirmedExposure{
			{DocID: "d1", Title: "One", Owner: "a@x.com", URL: "https://drive.example.com/d1", Level: AccessAnyoneOnWeb, ItemKind: ItemFile},
			{DocID: "d3", Owner: "a@x.com", Level: AccessAnyoneWithLink, ItemKind: ItemFolder},
		},
	}))
	require.NoError(t, reporter.SendFetchAlert(ctx, errors.New("boom")))

	fp, err := os.Open(reportFile)
	require.NoError(t, err)
	defer fp.Close()
	var details []*exposureevent.Detail
	scanner := bufio.NewScanner(fp)
	for scanner.Scan() {
		var detail exposureevent.Detail
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &detail))
		details = append(details, &detail)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, details, 2)

	require.Equal(t, "a@x.com", details[0].Owner)
	require.Equal(t, "2 publicly shared item(s) owned by a@x.com", details[0].Subject)
	require.Len(t, details[0].Exposures, 2)
	require.Equal(t, "d1", details[0].Exposures[0].DocID)
	require.Equal(t, "anyone_on_web", details[0].Exposures[0].Level)
	require.Equal(t, "d3", details[0].Exposures[1].DocID)
	require.Equal(t, "folder", details[0].Exposures[1].ItemKind)

	require.Empty(t, details[1].Owner)
	require.Equal(t, "boom", details[1].Error)
}

type fakeEventBridgeClient struct {
	inputs []*eventbridge.PutEventsInput
	output *eventbridge.PutEventsOutput
	err    error
}

func (c *fakeEventBridgeClient) PutEvents(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	c.inputs = append(c.inputs, params)
	if c.err != nil {
		return nil, c.err
	}
	if c.output != nil {
		return c.output, nil
	}
	return &eventbridge.PutEventsOutput{
		Entries: []types.PutEventsResultEntry{
			{EventId: aws.String("11111111-2222-3333-4444-555555555555")},
		},
	}, nil
}

func TestEventBridgeReporter(t *testing.T) {
	client := &fakeEventBridgeClient{}
	reporter := &EventBridgeReporter{
		client:   client,
		eventBus: "alerts",
	}
	ctx := context.Background()
	require.NoError(t, reporter.SendReport(ctx, &OwnerReport{
		Owner: "a@x.com",
		Exposures: []*ConfirmedExposure{
			{DocID: "d1", Title: "One", Owner: "a@x.com", Level: AccessAnyoneOnWeb, ItemKind: ItemFile},
		},
	}))
	require.NoError(t, reporter.SendFetchAlert(ctx, errors.New("boom")))

	require.Len(t, client.inputs, 2)
	entry := client.inputs[0].Entries[0]
	require.Equal(t, "alerts", *entry.EventBusName)
	require.Equal(t, "oss.gdexposure/a@x.com", *entry.Source)
	require.Equal(t, DetailTypeExposureReport, *entry.DetailType)
	var detail exposureevent.Detail
	require.NoError(t, json.Unmarshal([]byte(*entry.Detail), &detail))
	require.Equal(t, "a@x.com", detail.Owner)
	require.Len(t, detail.Exposures, 1)

	entry = client.inputs[1].Entries[0]
	require.Equal(t, "oss.gdexposure", *entry.Source)
	require.Equal(t, DetailTypeFetchFailed, *entry.DetailType)
	require.NoError(t, json.Unmarshal([]byte(*entry.Detail), &detail))
	require.Equal(t, "boom", detail.Error)
}

func TestEventBridgeReporterEntryError(t *testing.T) {
	client := &fakeEventBridgeClient{
		output: &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries: []types.PutEventsResultEntry{
				{
					ErrorCode:    aws.String("ThrottlingException"),
					ErrorMessage: aws.String("rate exceeded"),
				},
			},
		},
	}
	reporter := &EventBridgeReporter{client: client, eventBus: "alerts"}
	err := reporter.SendFetchAlert(context.Background(), errors.New("boom"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ThrottlingException")
}

func TestGmailReporter(t *testing.T) {
	stubServer, stub := NewStub(t)
	defer stubServer.Close()

	ctx := context.Background()
	reporter, err := NewGmailReporter(ctx, ReporterOption{
		Type:       "gmail",
		SenderName: "Surveillance des partages Drive",
		Assistance: "assistance@example.com",
	}, option.WithoutAuthentication(), option.WithEndpoint(stubServer.URL))
	require.NoError(t, err)

	require.NoError(t, reporter.SendReport(ctx, &OwnerReport{
		Owner: "a@x.com",
		Exposures: []*ConfirmedExposure{
			{DocID: "d1", Title: "One", Owner: "a@x.com", URL: "https://drive.example.com/d1", Level: AccessAnyoneOnWeb},
		},
	}))
	require.NoError(t, reporter.SendFetchAlert(ctx, errors.New("boom")))

	sent := stub.SentMessages()
	require.Len(t, sent, 2)
	require.Contains(t, sent[0], "From: Surveillance des partages Drive <surveillance@example.com>")
	require.Contains(t, sent[0], "To: a@x.com")
	require.Contains(t, sent[0], "Reply-To: assistance@example.com")
	require.Contains(t, sent[0], "Content-Type: multipart/alternative")
	require.Contains(t, sent[1], "To: assistance@example.com")
}

func TestGmailReporterFetchAlertWithoutAssistance(t *testing.T) {
	stubServer, stub := NewStub(t)
	defer stubServer.Close()

	ctx := context.Background()
	reporter, err := NewGmailReporter(ctx, ReporterOption{Type: "gmail", SenderName: "Surveillance"},
		option.WithoutAuthentication(), option.WithEndpoint(stubServer.URL))
	require.NoError(t, err)
	require.NoError(t, reporter.SendFetchAlert(ctx, errors.New("boom")))
	require.Empty(t, stub.SentMessages())
}
