package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"abr-pipeline/internal/orchestrator"
	"abr-pipeline/internal/transcode"
	"abr-pipeline/internal/transcode/remote"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, err := runCLI(t, "plan", "--collection", "videos")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, want := range []string{"144p_150k", "240p_250k", "300p_500k", "output: segments/videos/{asset}/g{generation}/", "300p_500k/index.m3u8"} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "144p_150k") > strings.Index(out, "300p_500k") {
		t.Error("renditions should be listed in plan order")
	}
}

func TestPlanCommand_unknown_collection(t *testing.T) {
	if _, err := runCLI(t, "plan", "--collection", "users"); err == nil {
		t.Error("expected error for unknown collection")
	}
}

func TestPlanCommand_collections_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.toml")
	body := "[collections.clips]\nsegment_duration = 4\nresolutions = [ { size = 360, bitrate = 800 } ]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "--collections", path, "plan")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out, "360p_800k") || strings.Contains(out, "144p_150k") {
		t.Errorf("unexpected plan output:\n%s", out)
	}
}

// fakeEncoder answers rendition requests with 3s of 0.5s packets. Requests
// for rejectHeight get a 422.
func fakeEncoder(t *testing.T, calls *atomic.Int32, rejectHeight int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/renditions" {
			http.NotFound(w, r)
			return
		}
		var req remote.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		calls.Add(1)
		if req.Height == rejectHeight {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set(remote.DurationHeader, "3")
		pw := transcode.NewPacketWriter(w)
		for i := 0; i < 6; i++ {
			if err := pw.WritePacket(transcode.Packet{Duration: 500 * time.Millisecond, Data: []byte(req.SourceKey)}); err != nil {
				return
			}
		}
	}))
}

func TestIngestCommand_remote_transcoder(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEncoder(t, &calls, 0)
	defer srv.Close()

	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("TRANSCODER", "remote")
	t.Setenv("REMOTE_TRANSCODER_URL", srv.URL)
	t.Setenv("LOG_LEVEL", "error")

	source := filepath.Join(t.TempDir(), "in.mp4")
	if err := os.WriteFile(source, []byte("not really a movie"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "ingest", "--asset", "a1", "--collection", "videos", "--source", source, "--timeout", "10s")
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "asset a1 ready: segments/videos/a1/manifest.json") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "240p_250k") {
		t.Errorf("rendition table missing:\n%s", out)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 encoder calls, got %d", calls.Load())
	}
}

func TestIngestCommand_rejects_large_source(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("MAX_SOURCE_BYTES", "4")

	source := filepath.Join(t.TempDir(), "in.mp4")
	if err := os.WriteFile(source, []byte("too big"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "ingest", "--asset", "a1", "--source", source)
	if err == nil || !strings.Contains(err.Error(), "maximum upload size") {
		t.Errorf("expected size rejection, got %v", err)
	}
}

func TestIngestCommand_json_failure_exits_nonzero(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEncoder(t, &calls, 240)
	defer srv.Close()

	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("TRANSCODER", "remote")
	t.Setenv("REMOTE_TRANSCODER_URL", srv.URL)
	t.Setenv("LOG_LEVEL", "error")

	source := filepath.Join(t.TempDir(), "in.mp4")
	if err := os.WriteFile(source, []byte("not really a movie"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "ingest", "--asset", "a1", "--source", source, "--json", "--timeout", "10s")
	if err == nil {
		t.Fatalf("expected failure, output:\n%s", out)
	}
	if !strings.Contains(out, `"type": "asset.failed"`) || !strings.Contains(out, `"rendition": "240p_250k"`) {
		t.Errorf("failure event not printed:\n%s", out)
	}
}

func TestIngestCommand_validates_before_upload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", "fs")
	t.Setenv("STORAGE_DIR", dir)

	source := filepath.Join(t.TempDir(), "in.mp4")
	if err := os.WriteFile(source, []byte("movie"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown_collection", []string{"--asset", "a1", "--collection", "users"}, orchestrator.ErrUnknownCollection},
		{"invalid_asset", []string{"--asset", "../a1"}, orchestrator.ErrInvalidAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"ingest", "--source", source}, tt.args...)
			if _, err := runCLI(t, args...); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("nothing should be uploaded for a rejected ingest, found %v", entries)
	}
}
