package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"abr-pipeline/internal/media"
	"abr-pipeline/internal/transcode"
)

var spec = media.RenditionSpec{Height: 144, BitrateKbps: 150, SegmentDuration: time.Second}

func TestClient_Transcode(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/renditions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set(DurationHeader, "2.0")
		pw := transcode.NewPacketWriter(w)
		_ = pw.WritePacket(transcode.Packet{Duration: time.Second, Data: []byte("a")})
		_ = pw.WritePacket(transcode.Packet{Duration: time.Second, Data: []byte("b")})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", srv.Client())
	r, err := c.Transcode(context.Background(), transcode.Source{Key: "media/videos/a1/original"}, spec)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	defer r.Close()

	if r.Duration != 2*time.Second {
		t.Errorf("duration %s", r.Duration)
	}
	n := 0
	for {
		_, err := r.Packets.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 packets, got %d", n)
	}
	if got.SourceKey != "media/videos/a1/original" || got.Height != 144 || got.Width != 256 || got.BitrateKbps != 150 || got.SegmentDuration != 1 {
		t.Errorf("unexpected request %+v", got)
	}
	if got.RequestID == "" {
		t.Error("expected request id")
	}
}

func TestClient_Transcode_status_classification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusUnprocessableEntity, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", srv.Client()).Transcode(context.Background(), transcode.Source{Key: "k"}, spec)
			if !errors.Is(err, media.ErrTranscode) {
				t.Fatalf("expected transcode error, got %v", err)
			}
			if media.IsTransient(err) != tt.transient {
				t.Errorf("transient = %v, want %v", media.IsTransient(err), tt.transient)
			}
		})
	}
}

func TestClient_Transcode_missing_duration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", srv.Client()).Transcode(context.Background(), transcode.Source{Key: "k"}, spec)
	if !errors.Is(err, media.ErrTranscode) || media.IsTransient(err) {
		t.Fatalf("expected permanent transcode error, got %v", err)
	}
}

func TestClient_Transcode_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "", nil).Transcode(context.Background(), transcode.Source{Key: "k"}, spec)
	if !media.IsTransient(err) {
		t.Fatalf("network failures should be transient, got %v", err)
	}
}
