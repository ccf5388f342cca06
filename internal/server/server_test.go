package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/assessment"
	"github.com/audiolibrelab/fluentdrill/internal/audio/audiotest"
	"github.com/audiolibrelab/fluentdrill/internal/config"
	"github.com/audiolibrelab/fluentdrill/internal/exercise"
	"github.com/audiolibrelab/fluentdrill/internal/practice"
	"github.com/audiolibrelab/fluentdrill/internal/service"
)

type scoringStub struct{}

func (scoringStub) Submit(ctx context.Context, audio []byte, referenceText, languageCode string) (*assessment.Result, error) {
	return &assessment.Result{
		Overall: assessment.OverallScores{Accuracy: 91, Fluency: 88, Completeness: 100, Prosody: 80, Pronunciation: 89},
		Words:   []assessment.WordAssessment{{Word: referenceText, WordAccuracy: 91}},
	}, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, adjust func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	dir := t.TempDir()
	setPath := filepath.Join(dir, "set.yaml")
	content := `topic: travel
difficulty: elementary
language: Spanish (Spain)
exercises:
  - native: ¿Dónde está la estación?
    romanized: ¿Dónde está la estación?
    translation: Where is the station?
  - native: Un billete, por favor
    romanized: Un billete, por favor
    translation: One ticket, please
`
	if err := os.WriteFile(setPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write set file: %v", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if adjust != nil {
		adjust(cfg)
	}

	svc := service.New(cfg, service.Options{
		Generator: exercise.NewFileGenerator(setPath),
		Assessor:  scoringStub{},
		Devices: practice.Devices{
			Input:        &audiotest.Microphone{Chunks: [][]byte{[]byte("opus")}},
			Output:       &audiotest.Speaker{Duration: 3},
			CaptureTick:  5 * time.Millisecond,
			PollInterval: 2 * time.Millisecond,
		},
	})
	t.Cleanup(svc.Close)

	srv := New(svc, cfg)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doRequest(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response of %s %s: %v", method, url, err)
	}
	return resp.StatusCode, decoded
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	status, body := doRequest(t, http.MethodGet, ts.URL+"/health", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Unexpected health response: %d %v", status, body)
	}
}

func TestSessionWithoutSet(t *testing.T) {
	_, ts := newTestServer(t)

	status, body := doRequest(t, http.MethodGet, ts.URL+"/api/session", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 without a set, got %d", status)
	}
	if body["success"] != false || body["code"] != "INVALID_STATE" {
		t.Errorf("Unexpected error body: %v", body)
	}
}

func TestGenerateAndNavigate(t *testing.T) {
	_, ts := newTestServer(t)

	status, body := doRequest(t, http.MethodPost, ts.URL+"/api/exercises", map[string]interface{}{
		"topic": "viajes",
	})
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("Expected generation to succeed, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodGet, ts.URL+"/api/session", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected session view, got %d %v", status, body)
	}
	if body["index"] != float64(0) || body["total"] != float64(2) || body["topic"] != "viajes" {
		t.Errorf("Unexpected view: %v", body)
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/next", nil)
	if status != http.StatusOK || body["index"] != float64(1) {
		t.Errorf("Expected next to land on 1, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/navigate", map[string]interface{}{"index": 5})
	if status != http.StatusBadRequest || body["code"] != "OUT_OF_RANGE" {
		t.Errorf("Expected out of range, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/navigate", map[string]interface{}{})
	if status != http.StatusBadRequest || body["code"] != "VALIDATION_ERROR" {
		t.Errorf("Expected validation error for missing index, got %d %v", status, body)
	}
	details, _ := body["details"].(map[string]interface{})
	fields, _ := details["fields"].(map[string]interface{})
	if _, ok := fields["index"]; !ok {
		t.Errorf("Expected index field error, got %v", body["details"])
	}
}

func TestCaptureAndSubmit(t *testing.T) {
	_, ts := newTestServer(t)
	doRequest(t, http.MethodPost, ts.URL+"/api/exercises", map[string]interface{}{})

	status, body := doRequest(t, http.MethodPost, ts.URL+"/api/session/submit", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected submit from idle to conflict, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/capture/begin", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected capture to start, got %d %v", status, body)
	}
	session, _ := body["session"].(map[string]interface{})
	if session["state"] != "recording" {
		t.Errorf("Expected recording state, got %v", session["state"])
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/capture/end", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected capture to end, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/submit", nil)
	if status != http.StatusAccepted || body["index"] != float64(0) {
		t.Fatalf("Expected submission accepted for index 0, got %d %v", status, body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body = doRequest(t, http.MethodGet, ts.URL+"/api/session", nil)
		session, _ = body["session"].(map[string]interface{})
		if session["state"] == "completed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if session["state"] != "completed" {
		t.Fatalf("Expected completed session, got %v", session)
	}
	result, _ := session["assessment"].(map[string]interface{})
	overall, _ := result["overall"].(map[string]interface{})
	if overall["accuracy"] != float64(91) {
		t.Errorf("Expected accuracy 91, got %v", result)
	}
}

func TestCommandErrorReportedOnce(t *testing.T) {
	_, ts := newTestServer(t)
	doRequest(t, http.MethodPost, ts.URL+"/api/exercises", map[string]interface{}{})

	status, body := doRequest(t, http.MethodPost, ts.URL+"/api/session/previous", nil)
	if status != http.StatusBadRequest || body["code"] != "OUT_OF_RANGE" {
		t.Fatalf("Expected out of range, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodGet, ts.URL+"/api/session", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected session view, got %d %v", status, body)
	}
	if notice, ok := body["notice"]; ok {
		t.Errorf("Expected the failed command not to come back as a notice, got %v", notice)
	}
}

func TestVolumeAndDisplay(t *testing.T) {
	_, ts := newTestServer(t)
	doRequest(t, http.MethodPost, ts.URL+"/api/exercises", map[string]interface{}{})

	status, body := doRequest(t, http.MethodPost, ts.URL+"/api/session/playback/volume", map[string]interface{}{"volume": 1.7})
	if status != http.StatusOK {
		t.Fatalf("Expected volume to be accepted, got %d %v", status, body)
	}
	playback, _ := body["playback"].(map[string]interface{})
	if playback["volume"] != float64(1) {
		t.Errorf("Expected clamped volume 1, got %v", playback["volume"])
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/display", map[string]interface{}{"romanized": false})
	if status != http.StatusOK || body["romanized"] != false {
		t.Errorf("Expected native display, got %d %v", status, body)
	}

	status, body = doRequest(t, http.MethodPost, ts.URL+"/api/session/display", map[string]interface{}{})
	if status != http.StatusBadRequest {
		t.Errorf("Expected missing romanized to be rejected, got %d %v", status, body)
	}
}

func TestGenerateRateLimit(t *testing.T) {
	_, ts := newTestServerWith(t, func(cfg *config.Config) {
		cfg.Server.GenerateRateLimit = 1
	})

	status, _ := doRequest(t, http.MethodPost, ts.URL+"/api/exercises", map[string]interface{}{})
	if status != http.StatusOK {
		t.Fatalf("Expected first generation to pass, got %d", status)
	}

	status, body := doRequest(t, http.MethodPost, ts.URL+"/api/exercises", map[string]interface{}{})
	if status != http.StatusTooManyRequests || body["code"] != "RATE_LIMITED" {
		t.Errorf("Expected rate limited response, got %d %v", status, body)
	}

	// Session commands are not limited.
	status, _ = doRequest(t, http.MethodGet, ts.URL+"/api/session", nil)
	if status != http.StatusOK {
		t.Errorf("Expected session view despite generation limit, got %d", status)
	}
}

func TestRecoverer(t *testing.T) {
	handler := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected JSON body: %v", err)
	}
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("Unexpected body: %v", body)
	}
}
