package gdexposure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	admin "google.golang.org/api/admin/reports/v1"
	"google.golang.org/api/option"
)

func newStubAuditSource(t *testing.T) (*ReportsAuditSource, *stubHandler, func()) {
	t.Helper()
	stubServer, stub := NewStub(t)
	svc, err := admin.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(stubServer.URL),
	)
	require.NoError(t, err)
	return NewReportsAuditSource(svc), stub, stubServer.Close
}

func TestReportsAuditSourceFetchPaginates(t *testing.T) {
	source, stub, closeStub := newStubAuditSource(t)
	defer closeStub()
	stub.SetActivities(
		visibilityChangeActivity("d1", "One", "a@x.com", "public_on_the_web", false),
		visibilityChangeActivity("d2", "Two", "b@x.com", "anyone_with_link", false),
		visibilityChangeActivity("d3", "Three", "a@x.com", "people_with_link", false),
	)

	since := time.Now().Add(-24 * time.Hour)
	var docIDs []string
	for activity, err := range source.Fetch(context.Background(), since) {
		require.NoError(t, err)
		params := flattenParams(activity.Events[0])
		docID, ok := params.String(paramDocID)
		require.True(t, ok)
		docIDs = append(docIDs, docID)
	}
	// the stub serves one activity per page, so three results means the
	// page token loop actually ran
	require.Equal(t, []string{"d1", "d2", "d3"}, docIDs)
}

func TestReportsAuditSourceFetchStopsEarly(t *testing.T) {
	source, stub, closeStub := newStubAuditSource(t)
	defer closeStub()
	stub.SetActivities(
		visibilityChangeActivity("d1", "One", "a@x.com", "public_on_the_web", false),
		visibilityChangeActivity("d2", "Two", "b@x.com", "anyone_with_link", false),
	)

	count := 0
	for _, err := range source.Fetch(context.Background(), time.Now().Add(-time.Hour)) {
		require.NoError(t, err)
		count++
		break
	}
	require.Equal(t, 1, count)
}

func TestReportsAuditSourceFetchError(t *testing.T) {
	source, stub, closeStub := newStubAuditSource(t)
	defer closeStub()
	stub.FailAudit(true)

	var fetchErr error
	count := 0
	for activity, err := range source.Fetch(context.Background(), time.Now().Add(-time.Hour)) {
		require.Nil(t, activity)
		fetchErr = err
		count++
	}
	require.Equal(t, 1, count)
	require.Error(t, fetchErr)
	var fe *FetchError
	require.True(t, errors.As(fetchErr, &fe))
}
