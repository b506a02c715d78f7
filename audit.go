package gdexposure

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	admin "google.golang.org/api/admin/reports/v1"
)

const (
	auditApplicationName = "drive"
	auditEventName       = "change_document_visibility"
	auditPageSize        = 500
)

// FetchError reports a failed audit log query. It is fatal for the run:
// no partial results are processed and no owner notifications are sent.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("audit log fetch failed: %s", e.Err.Error())
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AuditSource provides visibility-change audit records for a time window.
//
// Fetch returns a restartable lazy sequence: pages are requested as the
// sequence is consumed, and ranging again issues the query again. When a
// page request fails the sequence yields a single *FetchError and stops.
type AuditSource interface {
	Fetch(ctx context.Context, since time.Time) iter.Seq2[*admin.Activity, error]
}

// ReportsAuditSource implements AuditSource on the Admin SDK Reports API.
// It queries the drive application for change_document_visibility events.
type ReportsAuditSource struct {
	svc      *admin.Service
	pageSize int64
}

// NewReportsAuditSource creates an AuditSource backed by the Reports API.
func NewReportsAuditSource(svc *admin.Service) *ReportsAuditSource {
	return &ReportsAuditSource{
		svc:      svc,
		pageSize: auditPageSize,
	}
}

func (s *ReportsAuditSource) Fetch(ctx context.Context, since time.Time) iter.Seq2[*admin.Activity, error] {
	return func(yield func(*admin.Activity, error) bool) {
		pageToken := ""
		for {
			call := s.svc.Activities.List("all", auditApplicationName).
				EventName(auditEventName).
				StartTime(since.Format(time.RFC3339)).
				MaxResults(s.pageSize)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			activities, err := call.Context(ctx).Do()
			if err != nil {
				slog.DebugContext(ctx, "reports API activities:list failed", "error", err)
				yield(nil, &FetchError{Err: fmt.Errorf("reports API activities:list: %w", err)})
				return
			}
			if activities.HTTPStatusCode != http.StatusOK {
				yield(nil, &FetchError{Err: fmt.Errorf("reports API activities:list response status not ok (status:%d)", activities.HTTPStatusCode)})
				return
			}
			slog.DebugContext(ctx, "reports API activities:list page", "items", len(activities.Items), "next_page_token", coalesce(activities.NextPageToken, "-"))
			for _, item := range activities.Items {
				if !yield(item, nil) {
					return
				}
			}
			if activities.NextPageToken == "" {
				return
			}
			pageToken = activities.NextPageToken
		}
	}
}
