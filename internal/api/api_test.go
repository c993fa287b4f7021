package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stackwatch/relay/internal/config"
	"github.com/stackwatch/relay/internal/dispatch"
	"github.com/stackwatch/relay/internal/engine"
	"github.com/stackwatch/relay/internal/entity"
	"github.com/stackwatch/relay/internal/model"
	"github.com/stackwatch/relay/internal/registry"
	"github.com/stackwatch/relay/internal/store"
)

// fakeEngineHandler serves a single always-succeeding responder and job.
func fakeEngineHandler() http.Handler {
	maxTLP := 3
	responders := []model.Responder{{ID: "vt-1", Name: "VirusTotal", MaxTLP: &maxTLP}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/responder/_search", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(responders)
	})
	mux.HandleFunc("/api/responder/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/responder/")
		if strings.HasSuffix(rest, "/run") {
			json.NewEncoder(w).Encode(model.Job{ID: "job-1", Status: model.JobWaiting})
			return
		}
		if rest == "vt-1" {
			json.NewEncoder(w).Encode(responders[0])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/job/", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(model.Job{
			ID:     "job-1",
			Status: model.JobSuccess,
			Report: json.RawMessage(`{"success":true,"operations":[]}`),
		})
	})
	return mux
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	actions, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { actions.Close() })

	entities, err := entity.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("entity.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { entities.Close() })

	ctx := context.Background()
	if err := entities.CreateCase(ctx, &entity.Case{ID: "case-1", TLP: 1, PAP: 1}); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if err := entities.Create(ctx, &entity.Record{
		Type:   "case_artifact",
		ID:     "a1",
		CaseID: "case-1",
		Fields: map[string]any{"data": "1.2.3.4", "dataType": "ip"},
	}); err != nil {
		t.Fatalf("Create entity: %v", err)
	}

	engineSrv := httptest.NewServer(fakeEngineHandler())
	t.Cleanup(engineSrv.Close)
	inst := engine.New(config.EngineConfig{Name: "cortex-test", URL: engineSrv.URL})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := registry.New([]*engine.Instance{inst}, entities, registry.MergeMostPermissive, logger)
	applier := entity.NewApplier(entities, entities)
	poller := dispatch.NewPoller(actions, applier, 20*time.Millisecond, logger)
	dispatcher := dispatch.NewDispatcher(reg, actions, entities, entities, poller, logger)

	return NewServer(":0", actions, reg, dispatcher, logger), actions
}

func TestExecuteActionValid(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"objectType":"case_artifact","objectId":"a1","responderName":"VirusTotal"}`
	resp, err := http.Post(ts.URL+"/v1/actions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/actions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}

	var action model.Action
	if err := json.NewDecoder(resp.Body).Decode(&action); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(action.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(action.ID))
	}
	if action.ResponderID != "vt-1" {
		t.Errorf("ResponderID = %q, want vt-1", action.ResponderID)
	}
	if action.InstanceName != "cortex-test" {
		t.Errorf("InstanceName = %q, want cortex-test", action.InstanceName)
	}
	if action.EndedAt != nil {
		t.Error("action must be returned before job completion")
	}
}

func TestExecuteActionMissingObjectType(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"objectId":"a1","responderName":"VirusTotal"}`
	resp, err := http.Post(ts.URL+"/v1/actions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/actions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	var errResp map[string]string
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp["error"] == "" {
		t.Error("expected error message in response")
	}
}

func TestExecuteActionNoResponder(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"objectType":"case_artifact","objectId":"a1"}`
	resp, err := http.Post(ts.URL+"/v1/actions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/actions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteActionUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"objectType":"case_artifact","objectId":"ghost","responderName":"VirusTotal"}`
	resp, err := http.Post(ts.URL+"/v1/actions", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/actions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExecuteActionInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/actions", "application/json", bytes.NewBufferString("not json"))
	if err != nil {
		t.Fatalf("POST /v1/actions: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetActionAndList(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"objectType":"case_artifact","objectId":"a1","responderName":"VirusTotal"}`
	createResp, _ := http.Post(ts.URL+"/v1/actions", "application/json", bytes.NewBufferString(body))
	var created model.Action
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/actions/" + created.ID)
	if err != nil {
		t.Fatalf("GET /v1/actions/{id}: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/v1/actions?entityType=case_artifact&entityId=a1")
	if err != nil {
		t.Fatalf("GET /v1/actions: %v", err)
	}
	defer listResp.Body.Close()

	var list listActionsResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Actions) != 1 {
		t.Errorf("total = %d, len = %d, want 1/1", list.Total, len(list.Actions))
	}
}

func TestListActionsLimitClamped(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for query, want := range map[string]int{
		"limit=101": maxListLimit,
		"limit=100": maxListLimit,
		"limit=0":   defaultListLimit,
		"limit=-5":  defaultListLimit,
	} {
		resp, err := http.Get(ts.URL + "/v1/actions?" + query)
		if err != nil {
			t.Fatalf("GET /v1/actions?%s: %v", query, err)
		}
		var list listActionsResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		resp.Body.Close()
		if list.Limit != want {
			t.Errorf("%s: effective limit = %d, want %d", query, list.Limit, want)
		}
	}
}

func TestGetActionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/actions/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListResponders(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/responders")
	if err != nil {
		t.Fatalf("GET /v1/responders: %v", err)
	}
	defer resp.Body.Close()

	var merged []model.MergedResponder
	if err := json.NewDecoder(resp.Body).Decode(&merged); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(merged) != 1 || merged[0].Name != "VirusTotal" {
		t.Errorf("merged = %+v", merged)
	}
}

func TestListRespondersApplicable(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/responders?entityType=case_artifact&entityId=a1")
	if err != nil {
		t.Fatalf("GET /v1/responders: %v", err)
	}
	defer resp.Body.Close()

	var merged []model.MergedResponder
	if err := json.NewDecoder(resp.Body).Decode(&merged); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(merged) != 1 {
		t.Errorf("len = %d, want 1 (tlp=1 entity vs maxTlp=3 responder)", len(merged))
	}
}

func TestListRespondersHalfEntityFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/responders?entityType=case_artifact")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListInstances(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/instances")
	if err != nil {
		t.Fatalf("GET /v1/instances: %v", err)
	}
	defer resp.Body.Close()

	var infos []instanceInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "cortex-test" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv, actions := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	a := &model.Action{
		ID: model.NewID(), EntityType: "case_artifact", EntityID: "a1",
		ResponderID: "vt-1", ResponderName: "VirusTotal", InstanceName: "cortex-test",
		JobID: "job-9", Status: model.ActionSuccess, TLP: 1, PAP: 1,
		CreatedAt: time.Now().UTC(),
	}
	if err := actions.CreateAction(context.Background(), a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[model.ActionSuccess] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
