// enginesim starts a stub analysis engine speaking the responder/job wire
// API, for running relay locally without a real engine deployment.
// Usage: go run ./cmd/enginesim
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stackwatch/relay/internal/model"
)

const defaultWaitWindow = 30 * time.Second

func intp(v int) *int { return &v }

// catalog is the fixed set of responders the simulator exposes.
var catalog = []model.Responder{
	{
		ID:           "resp-block-ip",
		Name:         "BlockIP",
		Description:  "Pushes the observable to the perimeter blocklist",
		DataTypeList: []string{"relay:case_artifact"},
		MaxTLP:       intp(2),
		MaxPAP:       intp(2),
	},
	{
		ID:           "resp-notify",
		Name:         "NotifyOncall",
		Description:  "Pages the on-call rotation with the case summary",
		DataTypeList: []string{"relay:case", "relay:alert"},
	},
	{
		ID:           "resp-tag",
		Name:         "AutoTag",
		Description:  "Tags the artifact based on reputation lookups",
		DataTypeList: []string{"relay:case_artifact"},
		MaxTLP:       intp(3),
	},
}

// jobStore holds in-flight jobs. Jobs start Waiting and flip to a terminal
// status once completeAfter elapses, so pollers see a realistic lifecycle.
type jobStore struct {
	completeAfter time.Duration

	mu   sync.Mutex
	jobs map[string]*simJob
}

type simJob struct {
	job     model.Job
	started time.Time
}

func newJobStore(completeAfter time.Duration) *jobStore {
	return &jobStore{
		completeAfter: completeAfter,
		jobs:          make(map[string]*simJob),
	}
}

func (s *jobStore) create(responder model.Responder) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := model.Job{
		ID:            uuid.NewString(),
		ResponderID:   responder.ID,
		ResponderName: responder.Name,
		Status:        model.JobWaiting,
	}
	s.jobs[job.ID] = &simJob{job: job, started: time.Now()}
	return job
}

// wait blocks until the job is terminal or atMost elapses, then returns the
// job's status as of that moment. Completion is timer-driven, so the wait is
// a single sleep to whichever deadline comes first.
func (s *jobStore) wait(id string, atMost time.Duration) (model.Job, bool) {
	s.mu.Lock()
	sj, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return model.Job{}, false
	}
	started := sj.started
	s.mu.Unlock()

	if remaining := s.completeAfter - time.Since(started); remaining > 0 && atMost > 0 {
		time.Sleep(min(remaining, atMost))
	}
	return s.snapshot(id)
}

// snapshot returns the job with its status advanced according to elapsed time.
func (s *jobStore) snapshot(id string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	elapsed := time.Since(sj.started)
	switch {
	case elapsed >= s.completeAfter:
		sj.job.Status = model.JobSuccess
		sj.job.Report = successReport(sj.job.ResponderName)
	case elapsed >= s.completeAfter/2:
		sj.job.Status = model.JobInProgress
	}
	return sj.job, true
}

// successReport builds a report with one tagging operation, the shape relay's
// operation applier consumes.
func successReport(responderName string) json.RawMessage {
	report := map[string]any{
		"success": true,
		"summary": responderName + " completed",
		"operations": []map[string]any{
			{"type": "AddTagToArtifact", "tag": "relay:" + responderName},
		},
	}
	raw, _ := json.Marshal(report)
	return raw
}

func findResponder(id string) (model.Responder, bool) {
	for _, r := range catalog {
		if r.ID == id {
			return r, true
		}
	}
	return model.Responder{}, false
}

// newRouter builds the engine API surface over the given job store.
func newRouter(jobs *jobStore) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/responder/{id}", func(w http.ResponseWriter, req *http.Request) {
		responder, ok := findResponder(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, `{"error":"responder not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, responder)
	})

	r.Post("/api/responder/_search", func(w http.ResponseWriter, req *http.Request) {
		var search struct {
			Query map[string]any `json:"query"`
		}
		if err := json.NewDecoder(req.Body).Decode(&search); err != nil {
			http.Error(w, `{"error":"invalid search request"}`, http.StatusBadRequest)
			return
		}

		matched := make([]model.Responder, 0, len(catalog))
		for _, responder := range catalog {
			if matchesQuery(responder, search.Query) {
				matched = append(matched, responder)
			}
		}
		writeJSON(w, matched)
	})

	r.Post("/api/responder/{id}/run", func(w http.ResponseWriter, req *http.Request) {
		responder, ok := findResponder(chi.URLParam(req, "id"))
		if !ok {
			http.Error(w, `{"error":"responder not found"}`, http.StatusNotFound)
			return
		}
		var run struct {
			Data     json.RawMessage `json:"data"`
			DataType string          `json:"dataType"`
		}
		if err := json.NewDecoder(req.Body).Decode(&run); err != nil {
			http.Error(w, `{"error":"invalid run request"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, jobs.create(responder))
	})

	r.Get("/api/job/{id}/waitreport", func(w http.ResponseWriter, req *http.Request) {
		atMost := defaultWaitWindow
		if v := req.URL.Query().Get("atMost"); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				atMost = d
			}
		}
		job, ok := jobs.wait(chi.URLParam(req, "id"), atMost)
		if !ok {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, job)
	})

	return r
}

func main() {
	addr := ":9001"
	if v := os.Getenv("ENGINESIM_LISTEN_ADDR"); v != "" {
		addr = v
	}
	completeAfter := 3 * time.Second
	if v := os.Getenv("ENGINESIM_COMPLETE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			completeAfter = d
		}
	}

	jobs := newJobStore(completeAfter)
	r := newRouter(jobs)

	log.Printf("enginesim: listening on %s (jobs complete after %s)", addr, completeAfter)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("enginesim: %v", err)
	}
}

// matchesQuery applies the dataTypeList filter if the search carries one.
func matchesQuery(responder model.Responder, query map[string]any) bool {
	want, ok := query["dataTypeList"].(string)
	if !ok || want == "" {
		return true
	}
	for _, dt := range responder.DataTypeList {
		if dt == want {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
