package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stackwatch/relay/internal/config"
	"github.com/stackwatch/relay/internal/model"
)

// ErrJobNotFound is returned by WaitJob when the instance does not know the
// job. The poller treats this as a terminal failure, not a transient error.
var ErrJobNotFound = errors.New("job not found")

const (
	defaultTimeoutS = 30

	// waitJobGrace pads the HTTP deadline of a long-poll status call beyond
	// the server-side atMost window.
	waitJobGrace = 10 * time.Second
)

// Instance is a handle to one remote analysis-engine deployment. Instances
// are built once at startup, are immutable, and are safe for concurrent use.
type Instance struct {
	name   string
	url    string
	apiKey string
	client *http.Client
}

// New creates an instance handle from its fleet-file entry.
func New(cfg config.EngineConfig) *Instance {
	timeoutS := cfg.TimeoutS
	if timeoutS <= 0 {
		timeoutS = defaultTimeoutS
	}
	return &Instance{
		name:   cfg.Name,
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		// The client carries no global timeout: WaitJob deadlines exceed any
		// sane fixed value. Per-call deadlines come from context.
		client: &http.Client{},
	}
}

// Name returns the unique instance name from configuration.
func (i *Instance) Name() string { return i.name }

// URL returns the instance base URL.
func (i *Instance) URL() string { return i.url }

// RunRequest is the payload submitted with a responder run.
type RunRequest struct {
	Data       json.RawMessage `json:"data"`
	DataType   string          `json:"dataType"`
	TLP        int             `json:"tlp"`
	PAP        int             `json:"pap"`
	Message    string          `json:"message,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Responder fetches a responder by id. Returns model.ErrNotFound if the
// instance does not expose it.
func (i *Instance) Responder(ctx context.Context, id string) (*model.Responder, error) {
	var r model.Responder
	err := i.do(ctx, http.MethodGet, "/api/responder/"+id, nil, &r)
	if err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, fmt.Errorf("responder %s on instance %s: %w", id, i.name, model.ErrNotFound)
		}
		return nil, err
	}
	r.InstanceName = i.name
	return &r, nil
}

// ResponderByName resolves a responder by exact name via the search endpoint.
func (i *Instance) ResponderByName(ctx context.Context, name string) (*model.Responder, error) {
	responders, err := i.FindResponders(ctx, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	for _, r := range responders {
		if r.Name == name {
			r.InstanceName = i.name
			return &r, nil
		}
	}
	return nil, fmt.Errorf("responder %q on instance %s: %w", name, i.name, model.ErrNotFound)
}

// FindResponders searches responders matching the query. Zero matches is not
// an error: the engine returns an empty list.
func (i *Instance) FindResponders(ctx context.Context, query map[string]any) ([]model.Responder, error) {
	body := map[string]any{"query": query}
	if query == nil {
		body["query"] = map[string]any{}
	}

	var responders []model.Responder
	if err := i.do(ctx, http.MethodPost, "/api/responder/_search", body, &responders); err != nil {
		return nil, err
	}
	for idx := range responders {
		responders[idx].InstanceName = i.name
	}
	return responders, nil
}

// Run submits a responder job and returns the created job, normally in
// Waiting state.
func (i *Instance) Run(ctx context.Context, responderID string, req RunRequest) (*model.Job, error) {
	var job model.Job
	if err := i.do(ctx, http.MethodPost, "/api/responder/"+responderID+"/run", req, &job); err != nil {
		return nil, err
	}
	job.InstanceName = i.name
	return &job, nil
}

// WaitJob long-polls the job status for up to maxWait and returns whatever
// is known by then, including the report once the job is terminal. A 404
// maps to ErrJobNotFound; any other failure is transient from the caller's
// point of view.
func (i *Instance) WaitJob(ctx context.Context, jobID string, maxWait time.Duration) (*model.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait+waitJobGrace)
	defer cancel()

	path := fmt.Sprintf("/api/job/%s/waitreport?atMost=%s", jobID, maxWait)
	var job model.Job
	if err := i.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, fmt.Errorf("job %s on instance %s: %w", jobID, i.name, ErrJobNotFound)
		}
		return nil, err
	}
	job.InstanceName = i.name
	return &job, nil
}

// errStatusNotFound marks a 404 response so callers can map it onto their
// own not-found sentinel.
var errStatusNotFound = errors.New("status 404")

// do issues one authenticated JSON request and decodes the response into out.
func (i *Instance) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, i.url+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+i.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("instance %s: %s %s: %w", i.name, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("instance %s: %s %s: %w", i.name, method, path, errStatusNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("instance %s: %s %s: status %d: %s", i.name, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("instance %s: decode response: %w", i.name, err)
	}
	return nil
}
