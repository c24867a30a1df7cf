package handlers_test

import (
	archivezip "archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cinegen/internal/http/handlers"
	"cinegen/internal/http/httpapi"
	"cinegen/internal/infra"
	"cinegen/internal/leonardo"
	"cinegen/internal/reference"
)

type fakeClient struct {
	noCreds    bool
	failScenes map[int]bool
}

var scenePattern = regexp.MustCompile(`^Scene (\d+):`)

func (f *fakeClient) HasCredentials() bool { return !f.noCreds }

func (f *fakeClient) Submit(ctx context.Context, prompt string, refs []reference.Image) (string, error) {
	m := scenePattern.FindStringSubmatch(prompt)
	scene, _ := strconv.Atoi(m[1])
	return fmt.Sprintf("job-%d", scene), nil
}

func (f *fakeClient) Await(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	var scene int
	fmt.Sscanf(id, "job-%d", &scene)
	if f.failScenes[scene] {
		return nil, fmt.Errorf("%w: scene rejected", leonardo.ErrJobFailed)
	}
	return []byte(fmt.Sprintf("png-bytes-%d", scene)), nil
}

func newTestServer(t *testing.T, client *fakeClient) *httptest.Server {
	t.Helper()
	cfg := &infra.Config{
		MaxConcurrent:   2,
		JobTimeout:      time.Second,
		RateLimitPerMin: 1000,
	}
	app := handlers.NewApp(cfg, zerolog.New(io.Discard), client)
	ts := httptest.NewServer(httpapi.NewRouter(app))
	t.Cleanup(ts.Close)
	return ts
}

func postRun(t *testing.T, ts *httptest.Server, body map[string]any) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	return resp
}

func waitForRun(t *testing.T, ts *httptest.Server, runID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/v1/runs/" + runID)
		if err != nil {
			t.Fatalf("GET run: %v", err)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode run: %v", err)
		}
		resp.Body.Close()
		if body["status"] == "done" || body["status"] == "cancelled" {
			return body
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return nil
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp := postRun(t, ts, map[string]any{
		"script":      "A lone figure walks into fog.\n\nNeon lights flicker over rain-soaked streets.",
		"image_count": 2,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	runID, _ := created["run_id"].(string)
	if runID == "" {
		t.Fatalf("missing run_id in %v", created)
	}
	if created["total"] != float64(2) {
		t.Fatalf("total = %v, want 2", created["total"])
	}

	body := waitForRun(t, ts, runID)
	jobs, _ := body["jobs"].([]any)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %v, want 2 entries", body["jobs"])
	}
	first := jobs[0].(map[string]any)
	second := jobs[1].(map[string]any)
	if first["line_index"] != float64(0) || second["line_index"] != float64(2) {
		t.Fatalf("line indices = %v, %v, want 0 and 2", first["line_index"], second["line_index"])
	}
	if first["state"] != "succeeded" || second["state"] != "succeeded" {
		t.Fatalf("states = %v, %v", first["state"], second["state"])
	}
	if body["completed"] != float64(2) {
		t.Fatalf("completed = %v, want 2", body["completed"])
	}
}

func TestRunMixedFailureAndDownloads(t *testing.T) {
	ts := newTestServer(t, &fakeClient{failScenes: map[int]bool{2: true}})

	resp := postRun(t, ts, map[string]any{
		"script":      "one\ntwo\nthree",
		"image_count": 3,
	})
	var created map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	runID := created["run_id"].(string)

	body := waitForRun(t, ts, runID)
	jobs := body["jobs"].([]any)
	if got := jobs[1].(map[string]any)["state"]; got != "failed" {
		t.Fatalf("scene 2 state = %v, want failed", got)
	}

	// Per-image download: succeeded scene is served, failed scene is 404.
	imgResp, err := http.Get(ts.URL + "/v1/runs/" + runID + "/images/3")
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d", imgResp.StatusCode)
	}
	if ct := imgResp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := imgResp.Header.Get("Content-Disposition"); !strings.Contains(cd, "scene_3.png") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	data, _ := io.ReadAll(imgResp.Body)
	if string(data) != "png-bytes-3" {
		t.Fatalf("image bytes = %q", data)
	}

	failResp, err := http.Get(ts.URL + "/v1/runs/" + runID + "/images/2")
	if err != nil {
		t.Fatalf("GET failed image: %v", err)
	}
	failResp.Body.Close()
	if failResp.StatusCode != http.StatusNotFound {
		t.Fatalf("failed image status = %d, want 404", failResp.StatusCode)
	}

	// Archive holds exactly the two successes.
	zipResp, err := http.Get(ts.URL + "/v1/runs/" + runID + "/archive")
	if err != nil {
		t.Fatalf("GET archive: %v", err)
	}
	defer zipResp.Body.Close()
	if zipResp.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d", zipResp.StatusCode)
	}
	zipData, _ := io.ReadAll(zipResp.Body)
	zr, err := archivezip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		t.Fatalf("archive not readable: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive entries = %d, want 2", len(zr.File))
	}
	if zr.File[0].Name != "scene_1.png" || zr.File[1].Name != "scene_3.png" {
		t.Fatalf("entries = %q, %q", zr.File[0].Name, zr.File[1].Name)
	}
}

func TestRunAllFailedArchiveConflict(t *testing.T) {
	ts := newTestServer(t, &fakeClient{failScenes: map[int]bool{1: true}})

	resp := postRun(t, ts, map[string]any{"script": "only scene", "image_count": 1})
	var created map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	runID := created["run_id"].(string)
	waitForRun(t, ts, runID)

	zipResp, err := http.Get(ts.URL + "/v1/runs/" + runID + "/archive")
	if err != nil {
		t.Fatalf("GET archive: %v", err)
	}
	defer zipResp.Body.Close()
	if zipResp.StatusCode != http.StatusConflict {
		t.Fatalf("archive status = %d, want 409", zipResp.StatusCode)
	}
}

func TestCreateRunRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"blank script", map[string]any{"script": "\n\n", "image_count": 1}},
		{"count too large", map[string]any{"script": "one", "image_count": 500}},
		{"negative count", map[string]any{"script": "one", "image_count": -1}},
		{"bad reference data", map[string]any{
			"script":      "one",
			"image_count": 1,
			"references": []map[string]any{
				{"data": "!!!not-base64!!!", "description": "d", "tag": "t"},
			},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postRun(t, ts, tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateRunWithoutCredentials(t *testing.T) {
	ts := newTestServer(t, &fakeClient{noCreds: true})

	resp := postRun(t, ts, map[string]any{"script": "one", "image_count": 1})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "auth_error" {
		t.Fatalf("error = %q, want auth_error", body["error"])
	}
}

func TestGetUnknownRun(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp, err := http.Get(ts.URL + "/v1/runs/nope")
	if err != nil {
		t.Fatalf("GET run: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp := postRun(t, ts, map[string]any{"script": "one\ntwo", "image_count": 2})
	var created map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	runID := created["run_id"].(string)

	cancelResp, err := http.Post(ts.URL+"/v1/runs/"+runID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	cancelResp.Body.Close()
	// The batch may already have drained; either outcome is acceptable, but a
	// second cancel of a terminal run must conflict.
	if cancelResp.StatusCode == http.StatusAccepted {
		second, err := http.Post(ts.URL+"/v1/runs/"+runID+"/cancel", "application/json", nil)
		if err != nil {
			t.Fatalf("second cancel: %v", err)
		}
		second.Body.Close()
		if second.StatusCode != http.StatusConflict {
			t.Fatalf("second cancel status = %d, want 409", second.StatusCode)
		}
	}
}
