package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stackwatch/relay/internal/model"
)

func TestWaitBlocksUntilTerminal(t *testing.T) {
	jobs := newJobStore(50 * time.Millisecond)
	job := jobs.create(catalog[0])

	start := time.Now()
	got, ok := jobs.wait(job.ID, time.Second)
	elapsed := time.Since(start)

	if !ok {
		t.Fatal("job not found")
	}
	if got.Status != model.JobSuccess {
		t.Errorf("Status = %q, want Success after the completion timer", got.Status)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("wait returned after %v, must block until the job completes", elapsed)
	}
	if len(got.Report) == 0 {
		t.Error("terminal job carries no report")
	}
}

func TestWaitReturnsAtWindow(t *testing.T) {
	jobs := newJobStore(time.Minute)
	job := jobs.create(catalog[0])

	start := time.Now()
	got, ok := jobs.wait(job.ID, 30*time.Millisecond)
	elapsed := time.Since(start)

	if !ok {
		t.Fatal("job not found")
	}
	if model.JobTerminal(got.Status) {
		t.Errorf("Status = %q, want non-terminal before the completion timer", got.Status)
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("wait returned after %v, must hold until the window elapses", elapsed)
	}
	if elapsed > 10*time.Second {
		t.Errorf("wait held %v, far past the requested window", elapsed)
	}
}

func TestWaitUnknownJob(t *testing.T) {
	jobs := newJobStore(time.Minute)
	if _, ok := jobs.wait("ghost", 10*time.Millisecond); ok {
		t.Fatal("unknown job must not be found")
	}
}

func TestWaitReportHonorsAtMost(t *testing.T) {
	jobs := newJobStore(time.Minute)
	job := jobs.create(catalog[0])
	ts := httptest.NewServer(newRouter(jobs))
	defer ts.Close()

	start := time.Now()
	resp, err := http.Get(ts.URL + "/api/job/" + job.ID + "/waitreport?atMost=30ms")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("GET waitreport: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("waitreport answered after %v, must long-poll up to atMost", elapsed)
	}

	var got model.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.Status != model.JobWaiting {
		t.Errorf("Status = %q, want Waiting within the window", got.Status)
	}
}

func TestWaitReportUnknownJob(t *testing.T) {
	ts := httptest.NewServer(newRouter(newJobStore(time.Minute)))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/job/ghost/waitreport?atMost=10ms")
	if err != nil {
		t.Fatalf("GET waitreport: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSearchMalformedBody(t *testing.T) {
	ts := httptest.NewServer(newRouter(newJobStore(time.Minute)))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/responder/_search", "application/json", bytes.NewBufferString("not json"))
	if err != nil {
		t.Fatalf("POST _search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSearchFiltersByDataType(t *testing.T) {
	ts := httptest.NewServer(newRouter(newJobStore(time.Minute)))
	defer ts.Close()

	body := `{"query":{"dataTypeList":"relay:alert"}}`
	resp, err := http.Post(ts.URL+"/api/responder/_search", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST _search: %v", err)
	}
	defer resp.Body.Close()

	var matched []model.Responder
	if err := json.NewDecoder(resp.Body).Decode(&matched); err != nil {
		t.Fatalf("decode responders: %v", err)
	}
	if len(matched) != 1 || matched[0].Name != "NotifyOncall" {
		t.Errorf("matched = %+v, want NotifyOncall only", matched)
	}
}
