package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"studysum/internal/ai"
	"studysum/internal/common"
	"studysum/internal/config"
	"studysum/internal/jobs"
	"studysum/internal/storage"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*jobs.Job)}
}

func (s *memStore) CreateJob(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

func (s *memStore) GetJob(id, ownerID string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, jobs.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *memStore) ListByOwner(ownerID string) ([]jobs.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.Summary
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			out = append(out, jobs.Summary{ID: j.ID, OriginalFilename: j.OriginalFilename, CreatedAt: j.CreatedAt})
		}
	}
	return out, nil
}

func (s *memStore) MarkCompleted(id, resultText, contentPreview, finalPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = jobs.StatusCompleted
		rt, cp := resultText, contentPreview
		j.ResultText = &rt
		j.ContentPreview = &cp
		j.FilePath = finalPath
	}
	return nil
}

func (s *memStore) MarkFailed(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = jobs.StatusFailed
		r := reason
		j.ResultText = &r
	}
	return nil
}

func (s *memStore) FailStaleProcessing(reason string) (int64, error) { return 0, nil }

func (s *memStore) Close() error { return nil }

type stubAI struct {
	available bool
	artifact  ai.Artifact
	err       error
}

func (c *stubAI) Generate(_ context.Context, kind ai.Kind, _ string) (ai.Artifact, error) {
	if c.err != nil {
		return ai.Artifact{}, c.err
	}
	a := c.artifact
	a.Kind = kind
	return a, nil
}

func (c *stubAI) Available() bool { return c.available }

// stubProcessor optionally reports when it picks up an item and can block
// until released, which lets tests pin down queue occupancy.
type stubProcessor struct {
	started chan string
	block   chan struct{}
}

func (p *stubProcessor) Process(_ context.Context, item jobs.WorkItem) error {
	if p.started != nil {
		p.started <- item.Job.ID
	}
	if p.block != nil {
		<-p.block
	}
	return nil
}

type testEnv struct {
	svc    *Service
	store  *memStore
	server *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*Service)) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.MaxUploadSize = config.ByteSize(1 << 20)
	cfg.Pipeline.MaxTextLength = 8000
	cfg.Pipeline.PreviewLength = 1000

	files, err := storage.New(log, t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	store := newMemStore()
	svc := &Service{
		Log:      log,
		Cfg:      cfg,
		Store:    store,
		Queue:    jobs.NewQueue(log, 8, 1),
		Uploader: files,
		AI:       &stubAI{available: true, artifact: ai.Artifact{Text: "summary"}},
	}
	if mutate != nil {
		mutate(svc)
	}
	if err := svc.Queue.Start(context.Background(), &stubProcessor{}); err != nil {
		t.Fatalf("Queue.Start: %v", err)
	}
	t.Cleanup(func() { svc.Queue.Shutdown(time.Second) })

	ts := httptest.NewServer(NewHTTPServer(svc).Handler)
	t.Cleanup(ts.Close)
	return &testEnv{svc: svc, store: store, server: ts}
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &b, w.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(common.HeaderUserID, "user-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + common.PathHealthz)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	body, contentType := multipartBody(t, "notes.txt", []byte("cell biology"))

	resp := env.do(t, http.MethodPost, common.PathDocuments, body, map[string]string{"Content-Type": contentType})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	jobID, _ := got["jobId"].(string)
	if jobID == "" {
		t.Fatal("jobId missing from response")
	}
	if got["fileName"] != "notes.txt" {
		t.Errorf("fileName = %v", got["fileName"])
	}

	job, err := env.store.GetJob(jobID, "user-1")
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Status != jobs.StatusProcessing {
		t.Errorf("status = %q", job.Status)
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		t.Errorf("staged file missing: %v", err)
	}
}

func TestSubmitRequiresUserIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	body, contentType := multipartBody(t, "notes.txt", []byte("x"))

	req, err := http.NewRequest(http.MethodPost, env.server.URL+common.PathDocuments, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitEnforcesAPIKey(t *testing.T) {
	env := newTestEnv(t, func(svc *Service) { svc.Cfg.Server.APIKey = "secret" })
	body, contentType := multipartBody(t, "notes.txt", []byte("x"))

	resp := env.do(t, http.MethodPost, common.PathDocuments, body, map[string]string{"Content-Type": contentType})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d", resp.StatusCode)
	}

	body2, contentType2 := multipartBody(t, "notes.txt", []byte("x"))
	resp2 := env.do(t, http.MethodPost, common.PathDocuments, body2, map[string]string{
		"Content-Type":     contentType2,
		common.HeaderAPIKey: "secret",
	})
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("status with key = %d", resp2.StatusCode)
	}
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	_ = w.WriteField("note", "no file here")
	_ = w.Close()

	resp := env.do(t, http.MethodPost, common.PathDocuments, &b, map[string]string{"Content-Type": w.FormDataContentType()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, nil)
	body, contentType := multipartBody(t, "virus.exe", []byte("MZ"))

	resp := env.do(t, http.MethodPost, common.PathDocuments, body, map[string]string{"Content-Type": contentType})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if msg, _ := got["message"].(string); !strings.Contains(msg, "Unsupported file type") {
		t.Errorf("message = %v", got["message"])
	}
}

func TestSubmitRejectedWhileServiceDown(t *testing.T) {
	env := newTestEnv(t, func(svc *Service) { svc.AI = &stubAI{available: false} })
	body, contentType := multipartBody(t, "notes.txt", []byte("x"))

	resp := env.do(t, http.MethodPost, common.PathDocuments, body, map[string]string{"Content-Type": contentType})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	proc := &stubProcessor{started: make(chan string, 1), block: make(chan struct{})}
	defer close(proc.block)

	env := newTestEnv(t, nil)
	// Replace the queue with one of capacity 1 whose single worker blocks on
	// the first item, so the second occupies the only slot and the third is
	// rejected.
	env.svc.Queue = jobs.NewQueue(env.svc.Log, 1, 1)
	if err := env.svc.Queue.Start(context.Background(), proc); err != nil {
		t.Fatalf("Queue.Start: %v", err)
	}
	t.Cleanup(func() { env.svc.Queue.Shutdown(time.Second) })

	submit := func(name string) *http.Response {
		body, ct := multipartBody(t, name, []byte("content"))
		return env.do(t, http.MethodPost, common.PathDocuments, body, map[string]string{"Content-Type": ct})
	}

	if resp := submit("a.txt"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit status = %d", resp.StatusCode)
	}
	<-proc.started // worker is now stuck in Process

	if resp := submit("b.txt"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("second submit status = %d", resp.StatusCode)
	}

	resp := submit("c.txt")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("third submit status = %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if msg, _ := got["message"].(string); !strings.Contains(msg, "overloaded") {
		t.Errorf("message = %v", got["message"])
	}
}

func seedJob(env *testEnv, job jobs.Job) {
	_ = env.store.CreateJob(&job)
}

func TestGetDocumentStatuses(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Now().UTC()
	result := "## Summary"
	preview := "first chars"
	reason := "AI server is not responding"
	seedJob(env, jobs.Job{ID: "p1", OwnerID: "user-1", OriginalFilename: "a.txt", Status: jobs.StatusProcessing, CreatedAt: now})
	seedJob(env, jobs.Job{ID: "c1", OwnerID: "user-1", OriginalFilename: "b.pdf", Status: jobs.StatusCompleted, ResultText: &result, ContentPreview: &preview, CreatedAt: now})
	seedJob(env, jobs.Job{ID: "f1", OwnerID: "user-1", OriginalFilename: "c.docx", Status: jobs.StatusFailed, ResultText: &reason, CreatedAt: now})

	resp := env.do(t, http.MethodGet, common.PathDocuments+"/p1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("processing status = %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp); got["status"] != "processing" {
		t.Errorf("processing body = %v", got)
	}

	resp = env.do(t, http.MethodGet, common.PathDocuments+"/c1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("completed status = %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["resultText"] != "## Summary" || got["contentPreview"] != "first chars" {
		t.Errorf("completed body = %v", got)
	}

	resp = env.do(t, http.MethodGet, common.PathDocuments+"/f1", nil, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("failed status = %d", resp.StatusCode)
	}
	got = decodeBody(t, resp)
	if got["error"] != reason {
		t.Errorf("failed body = %v", got)
	}
}

func TestGetDocumentScopedToOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	seedJob(env, jobs.Job{ID: "x1", OwnerID: "someone-else", OriginalFilename: "a.txt", Status: jobs.StatusProcessing})

	resp := env.do(t, http.MethodGet, common.PathDocuments+"/x1", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, common.PathDocuments, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list []jobs.Summary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %v", list)
	}

	seedJob(env, jobs.Job{ID: "j1", OwnerID: "user-1", OriginalFilename: "a.txt", Status: jobs.StatusProcessing, CreatedAt: time.Now().UTC()})
	resp = env.do(t, http.MethodGet, common.PathDocuments, nil, nil)
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "j1" {
		t.Errorf("list = %v", list)
	}
}

func TestDownloadFile(t *testing.T) {
	env := newTestEnv(t, nil)
	path := filepath.Join(t.TempDir(), "stored.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	seedJob(env, jobs.Job{ID: "d1", OwnerID: "user-1", OriginalFilename: "thesis.pdf", Status: jobs.StatusCompleted, FilePath: path})

	resp := env.do(t, http.MethodGet, common.PathDocuments+"/d1/file", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != common.MimePDF {
		t.Errorf("content-type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="thesis.pdf"`) {
		t.Errorf("content-disposition = %q", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "%PDF-1.4 data" {
		t.Errorf("body = %q", data)
	}
}

func TestDownloadFileMissingOnDisk(t *testing.T) {
	env := newTestEnv(t, nil)
	seedJob(env, jobs.Job{ID: "d2", OwnerID: "user-1", OriginalFilename: "gone.txt", Status: jobs.StatusCompleted, FilePath: filepath.Join(t.TempDir(), "gone.txt")})

	resp := env.do(t, http.MethodGet, common.PathDocuments+"/d2/file", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGenerateMindMap(t *testing.T) {
	env := newTestEnv(t, func(svc *Service) {
		svc.AI = &stubAI{available: true, artifact: ai.Artifact{JSON: json.RawMessage(`{"name":"Cells","children":[]}`)}}
	})

	resp := env.do(t, http.MethodPost, common.PathGenerateMindmap,
		strings.NewReader(`{"text":"cell biology notes"}`), map[string]string{"Content-Type": common.ContentTypeJSON})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["success"] != true {
		t.Errorf("success = %v", got["success"])
	}
	mindMap, ok := got["mindMap"].(map[string]any)
	if !ok || mindMap["name"] != "Cells" {
		t.Errorf("mindMap = %v", got["mindMap"])
	}
}

func TestGenerateRequiresText(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, common.PathGenerateFlashcards,
		strings.NewReader(`{"text":"  "}`), map[string]string{"Content-Type": common.ContentTypeJSON})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGenerateServiceUnavailable(t *testing.T) {
	env := newTestEnv(t, func(svc *Service) {
		svc.AI = &stubAI{available: true, err: ai.ErrServiceUnavailable}
	})
	resp := env.do(t, http.MethodPost, common.PathGenerateQuiz,
		strings.NewReader(`{"text":"some notes"}`), map[string]string{"Content-Type": common.ContentTypeJSON})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["success"] != false {
		t.Errorf("success = %v", got["success"])
	}
}
