package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"

	"github.com/doctriage/doctriage/pkg/blob"
	"github.com/doctriage/doctriage/pkg/logging"
	"github.com/doctriage/doctriage/pkg/models"
	"github.com/doctriage/doctriage/pkg/processor"
	"github.com/doctriage/doctriage/pkg/queue"
	"github.com/doctriage/doctriage/pkg/retry"
	"github.com/doctriage/doctriage/pkg/scaler"
	"github.com/doctriage/doctriage/pkg/store"
	"github.com/doctriage/doctriage/pkg/worker"
)

type pipeline struct {
	server *httptest.Server
	queue  *queue.MemoryQueue
	store  store.Store
	pool   *scaler.PoolBackend
}

// newPipeline wires a full in-memory pipeline with real workers behind
// the API
func newPipeline(t *testing.T, workers int) *pipeline {
	t.Helper()
	log := logging.NewLogger(logging.ERROR, false)

	q := queue.NewMemoryQueue()
	blobs, err := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	if err != nil {
		t.Fatalf("Failed to create blob storage: %v", err)
	}
	reg := worker.NewMemoryRegistry()

	hub := NewHub(log)
	st := NewNotifyingStore(store.NewMemoryStore(), hub)

	pool := scaler.NewPoolBackend(func(ctx context.Context) error {
		w := worker.New(q, st, blobs, processor.NewContentClassifier(), reg, worker.Config{
			PollTimeout:       20 * time.Millisecond,
			HeartbeatInterval: time.Minute,
			StoreRetry:        retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
		}, log)
		return w.Run(ctx)
	}, log)
	t.Cleanup(pool.Stop)
	if err := pool.SetReplicas(context.Background(), workers); err != nil {
		t.Fatalf("Failed to start workers: %v", err)
	}

	ctrl := scaler.NewController(q, reg, pool, scaler.DefaultPolicy(), time.Minute, log)

	adm := NewAdmission(st, q, blobs, AdmissionConfig{
		MaxPayloadBytes: 1 << 20,
		MaxAttempts:     3,
		EnqueueRetry:    retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	}, log)

	router := mux.NewRouter()
	NewHandler(adm, st, q, reg, ctrl, hub, log).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &pipeline{server: srv, queue: q, store: st, pool: pool}
}

func (p *pipeline) submit(t *testing.T, filename, content string) (string, *http.Response) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	io.WriteString(part, content)
	mw.Close()

	resp, err := http.Post(p.server.URL+"/jobs", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /jobs failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		resp.Body.Close()
		return "", resp
	}
	defer resp.Body.Close()

	var body struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Status != string(models.JobStatusQueued) {
		t.Errorf("Expected queued on admission, got %s", body.Status)
	}
	return body.JobID, resp
}

func (p *pipeline) pollTerminal(t *testing.T, jobID string) models.JobView {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(p.server.URL + "/jobs/" + jobID)
		if err != nil {
			t.Fatalf("GET /jobs/%s failed: %v", jobID, err)
		}
		var view models.JobView
		err = json.NewDecoder(resp.Body).Decode(&view)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("Failed to decode job view: %v", err)
		}
		if view.Status == models.JobStatusCompleted || view.Status == models.JobStatusFailed {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached a terminal status", jobID)
	return models.JobView{}
}

func TestSubmitAndClassifyEndToEnd(t *testing.T) {
	p := newPipeline(t, 2)

	docs := map[string]struct {
		filename, content, wantLabel string
	}{
		"invoice": {"inv.txt", "Invoice number 7. Bill to ACME. Amount due $100. Payment terms net 30. Subtotal $90.", "invoice"},
		"contract": {"nda.txt", "This agreement between the parties, hereinafter the Vendor, covers obligations, termination and governing law.", "contract"},
		"resume": {"cv.txt", "Experience: 10 years. Education: BSc. Skills: Go. Employment history and references. Curriculum vitae.", "resume"},
	}

	ids := make(map[string]string)
	for key, doc := range docs {
		id, resp := p.submit(t, doc.filename, doc.content)
		if id == "" {
			t.Fatalf("Submission of %s rejected: %d", key, resp.StatusCode)
		}
		ids[key] = id
	}

	for key, doc := range docs {
		view := p.pollTerminal(t, ids[key])
		if view.Status != models.JobStatusCompleted {
			t.Errorf("%s: expected completed, got %s (error %+v)", key, view.Status, view.Error)
			continue
		}
		if view.Result == nil || view.Result.Label != doc.wantLabel {
			t.Errorf("%s: expected label %s, got %+v", key, doc.wantLabel, view.Result)
		}
		if view.Attempts != 1 {
			t.Errorf("%s: expected one attempt, got %d", key, view.Attempts)
		}
	}
}

func TestSubmitValidationFailures(t *testing.T) {
	p := newPipeline(t, 0)

	// Empty payload.
	if _, resp := p.submit(t, "empty.txt", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Empty payload: expected 400, got %d", resp.StatusCode)
	}

	// Unsupported extension.
	if _, resp := p.submit(t, "malware.exe", "MZ..."); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Unsupported extension: expected 400, got %d", resp.StatusCode)
	}

	// Word documents have no extractor; rejecting them up front beats
	// retrying them to max_attempts_exceeded.
	if _, resp := p.submit(t, "report.docx", "PK..."); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Word document: expected 400, got %d", resp.StatusCode)
	}

	// Not multipart at all.
	resp, err := http.Post(p.server.URL+"/jobs", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Non-multipart body: expected 400, got %d", resp.StatusCode)
	}
}

func TestGetJobNotFound(t *testing.T) {
	p := newPipeline(t, 0)

	resp, err := http.Get(p.server.URL + "/jobs/no-such-job")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestListJobsByStatus(t *testing.T) {
	p := newPipeline(t, 0) // no workers: jobs stay queued

	p.submit(t, "a.txt", "first document body")
	p.submit(t, "b.txt", "second document body")

	resp, err := http.Get(p.server.URL + "/jobs?status=queued")
	if err != nil {
		t.Fatalf("GET /jobs failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Jobs  []models.JobView `json:"jobs"`
		Count int              `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("Expected 2 queued jobs, got %d", body.Count)
	}

	resp2, _ := http.Get(p.server.URL + "/jobs?status=bogus")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("Bogus status filter: expected 400, got %d", resp2.StatusCode)
	}
}

func TestHealthDegradesWhenQueueDown(t *testing.T) {
	p := newPipeline(t, 0)

	resp, err := http.Get(p.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 while healthy, got %d", resp.StatusCode)
	}

	p.queue.Close()

	resp, err = http.Get(p.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with queue down, got %d", resp.StatusCode)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "degraded" {
		t.Errorf("Expected degraded, got %s", body.Status)
	}
	if body.Checks["queue"] == "ok" {
		t.Error("Queue check should report the failure")
	}
}

func TestManualScalingClampsToPolicy(t *testing.T) {
	p := newPipeline(t, 0)

	reqBody, _ := json.Marshal(map[string]int{"replicas": 10000})
	req, _ := http.NewRequest("PUT", p.server.URL+"/scaling", bytes.NewBuffer(reqBody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /scaling failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Replicas int `json:"replicas"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Replicas != scaler.DefaultPolicy().MaxWorkers {
		t.Errorf("Expected clamp to %d, got %d", scaler.DefaultPolicy().MaxWorkers, body.Replicas)
	}

	if n, _ := p.pool.Replicas(context.Background()); n != body.Replicas {
		t.Errorf("Backend not resized: %d", n)
	}
}

func TestWebsocketReceivesStatusPushes(t *testing.T) {
	p := newPipeline(t, 0)

	wsURL := "ws" + strings.TrimPrefix(p.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Websocket dial failed: %v", err)
	}
	defer conn.Close()

	id, _ := p.submit(t, "doc.txt", "hello world document")
	if id == "" {
		t.Fatal("Submission rejected")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var view models.JobView
	if err := conn.ReadJSON(&view); err != nil {
		t.Fatalf("Expected a status push: %v", err)
	}
	if view.ID != id || view.Status != models.JobStatusQueued {
		t.Errorf("Unexpected push: %+v", view)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	p := newPipeline(t, 0)

	resp, err := http.Get(p.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("doctriage_jobs_submitted_total")) {
		t.Error("Pipeline metrics missing from exposition")
	}
}

func TestAdmissionCeilingRejectsWithBackpressure(t *testing.T) {
	log := logging.NewLogger(logging.ERROR, false)
	q := queue.NewMemoryQueue()
	blobs, _ := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	st := store.NewMemoryStore()

	adm := NewAdmission(st, q, blobs, AdmissionConfig{
		MaxPayloadBytes:  1 << 20,
		MaxAttempts:      3,
		AdmissionCeiling: 1,
		EnqueueRetry:     retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	}, log)

	ctx := context.Background()
	if _, err := adm.Submit(ctx, "a.txt", strings.NewReader("body")); err != nil {
		t.Fatalf("First submission should pass: %v", err)
	}
	_, err := adm.Submit(ctx, "b.txt", strings.NewReader("body"))
	if err != models.ErrOverloaded {
		t.Errorf("Expected ErrOverloaded at the ceiling, got %v", err)
	}
}

// conditionalStore applies terminal writes through the same live-status
// guard the SQL backend compiles into its conditional UPDATE. The
// rollback path depends on queued being one of the matched states.
type conditionalStore struct {
	store.Store
}

func (s *conditionalStore) UpdateStatus(ctx context.Context, id string, status models.JobStatus, result *models.ClassificationResult, jobErr *models.JobError) error {
	job, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusQueued && job.Status != models.JobStatusProcessing {
		return fmt.Errorf("invalid transition from %s to %s", job.Status, status)
	}
	return s.Store.UpdateStatus(ctx, id, status, result, jobErr)
}

func TestAdmissionEnqueueFailureMarksJobFailed(t *testing.T) {
	log := logging.NewLogger(logging.ERROR, false)
	q := queue.NewMemoryQueue()
	q.Close() // enqueue will fail
	blobs, _ := blob.NewFilesystemStorage(afero.NewMemMapFs(), "/payloads")
	st := &conditionalStore{Store: store.NewMemoryStore()}

	adm := NewAdmission(st, q, blobs, AdmissionConfig{
		MaxPayloadBytes: 1 << 20,
		MaxAttempts:     3,
		EnqueueRetry:    retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	}, log)

	_, err := adm.Submit(context.Background(), "a.txt", strings.NewReader("body"))
	if err == nil {
		t.Fatal("Submission should fail with the queue down")
	}

	// The orphaned store entry must explain itself.
	jobs, _ := st.List(context.Background(), models.JobStatusFailed)
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 failed job, got %d", len(jobs))
	}
	if jobs[0].Error == nil || jobs[0].Error.Kind != models.ErrKindQueue {
		t.Errorf("Expected a queue-kind error, got %+v", jobs[0].Error)
	}
	// The terminal write came straight from queued: no claim ever happened.
	if jobs[0].Attempts != 0 || jobs[0].WorkerID != "" {
		t.Errorf("Rollback must not look like a worker failure: %+v", jobs[0])
	}
}
