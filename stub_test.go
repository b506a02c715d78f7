package gdexposure

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	admin "google.golang.org/api/admin/reports/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
)

type stubHandler struct {
	mu         sync.RWMutex
	t          *testing.T
	router     *mux.Router
	activities []*admin.Activity
	files      map[string]*drive.File
	failAudit  bool
	sent       []string
}

func NewStub(t *testing.T) (*httptest.Server, *stubHandler) {
	t.Helper()
	stub := &stubHandler{
		t:      t,
		router: mux.NewRouter(),
		files:  make(map[string]*drive.File),
	}
	stub.setupRoute()
	return httptest.NewServer(stub), stub
}

func (h *stubHandler) setupRoute() {
	h.router.HandleFunc("/admin/reports/v1/activity/users/{userKey}/applications/{applicationName}", h.handleActivitiesList).Methods(http.MethodGet)
	h.router.HandleFunc("/files/{fileId}", h.handleFileGet).Methods(http.MethodGet)
	h.router.HandleFunc("/gmail/v1/users/me/profile", h.handleProfile).Methods(http.MethodGet)
	h.router.HandleFunc("/gmail/v1/users/me/messages/send", h.handleMessageSend).Methods(http.MethodPost)
}

func (h *stubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *stubHandler) SetActivities(activities ...*admin.Activity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activities = activities
}

func (h *stubHandler) SetFile(f *drive.File) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[f.Id] = f
}

func (h *stubHandler) FailAudit(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAudit = fail
}

func (h *stubHandler) SentMessages() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string{}, h.sent...)
}

// handleActivitiesList serves activities one per page to exercise the
// pagination loop.
func (h *stubHandler) handleActivitiesList(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.failAudit {
		http.Error(w, "backend error", http.StatusInternalServerError)
		return
	}
	if vars := mux.Vars(r); vars["applicationName"] != "drive" {
		http.Error(w, "unexpected application", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("startTime") == "" {
		http.Error(w, "missing startTime", http.StatusBadRequest)
		return
	}
	index := 0
	if pageToken := r.URL.Query().Get("pageToken"); pageToken != "" {
		var err error
		index, err = strconv.Atoi(pageToken)
		if err != nil {
			http.Error(w, "invalid page token", http.StatusBadRequest)
			return
		}
	}
	resp := &admin.Activities{
		Kind: "admin#reports#activities",
	}
	if index < len(h.activities) {
		resp.Items = h.activities[index : index+1]
		if index+1 < len(h.activities) {
			resp.NextPageToken = strconv.Itoa(index + 1)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	require.NoError(h.t, json.NewEncoder(w).Encode(resp))
}

func (h *stubHandler) handleFileGet(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.files[mux.Vars(r)["fileId"]]
	if !ok {
		http.Error(w, `{"error": {"code": 404, "message": "File not found"}}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	require.NoError(h.t, json.NewEncoder(w).Encode(f))
}

func (h *stubHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	resp := &gmail.Profile{
		EmailAddress: "surveillance@example.com",
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	require.NoError(h.t, json.NewEncoder(w).Encode(resp))
}

func (h *stubHandler) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	var payload gmail.Message
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload.Raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.sent = append(h.sent, string(raw))
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	require.NoError(h.t, json.NewEncoder(w).Encode(&gmail.Message{Id: "stub-message-id"}))
}

func visibilityChangeActivity(docID, title, owner, visibility string, ownerIsSharedDrive bool) *admin.Activity {
	params := []*admin.ActivityEventsParameters{
		{Name: "visibility", Value: visibility},
		{Name: "owner", Value: owner},
		{Name: "doc_id", Value: docID},
	}
	if title != "" {
		params = append(params, &admin.ActivityEventsParameters{Name: "doc_title", Value: title})
	}
	params = append(params, &admin.ActivityEventsParameters{Name: "owner_is_shared_drive", BoolValue: ownerIsSharedDrive})
	return &admin.Activity{
		Id: &admin.ActivityId{
			ApplicationName: "drive",
			Time:            "2024-06-15T00:03:55.849Z",
		},
		Events: []*admin.ActivityEvents{
			{
				Type:       "acl_change",
				Name:       "change_document_visibility",
				Parameters: params,
			},
		},
	}
}
