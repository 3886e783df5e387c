package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"abr-pipeline/internal/media"
)

func TestGetEnv_fallbacks(t *testing.T) {
	t.Setenv("ABR_TEST_STR", "x")
	t.Setenv("ABR_TEST_INT", "nope")
	t.Setenv("ABR_TEST_DUR", "1.5")
	t.Setenv("ABR_TEST_DUR2", "250ms")
	t.Setenv("ABR_TEST_BOOL", "false")

	if got := GetEnv("ABR_TEST_STR", "y"); got != "x" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("ABR_TEST_UNSET", "y"); got != "y" {
		t.Errorf("GetEnv fallback = %q", got)
	}
	if got := GetEnvInt("ABR_TEST_INT", 7); got != 7 {
		t.Errorf("GetEnvInt invalid should fall back, got %d", got)
	}
	if got := GetEnvDuration("ABR_TEST_DUR", 0); got != 1500*time.Millisecond {
		t.Errorf("GetEnvDuration seconds = %s", got)
	}
	if got := GetEnvDuration("ABR_TEST_DUR2", 0); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration = %s", got)
	}
	if got := GetEnvBool("ABR_TEST_BOOL", true); got {
		t.Error("GetEnvBool should read false")
	}
}

func TestLoad_reads_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ABR_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("ABR_TEST_DOTENV") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("ABR_TEST_DOTENV", ""); got != "from-file" {
		t.Errorf("got %q", got)
	}
}

func TestFromEnv_defaults(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "6")
	s := FromEnv()
	if s.Workers != 6 {
		t.Errorf("Workers = %d", s.Workers)
	}
	if s.MaxSourceBytes != 50_000_000 {
		t.Errorf("MaxSourceBytes = %d", s.MaxSourceBytes)
	}
	if s.SegmentsPrefix != "segments" || s.MediaPrefix != "media" {
		t.Errorf("prefixes = %q %q", s.MediaPrefix, s.SegmentsPrefix)
	}
}

func TestDefaultCollections(t *testing.T) {
	c := DefaultCollections()

	videos, ok := c[media.KindVideos]
	if !ok {
		t.Fatal("videos collection missing")
	}
	if videos.SegmentDuration != time.Second || !videos.KeepOriginal {
		t.Errorf("videos = %+v", videos)
	}
	want := []media.Resolution{{Size: 144, Bitrate: 150}, {Size: 240, Bitrate: 250}, {Size: 300, Bitrate: 500}}
	if len(videos.Resolutions) != len(want) {
		t.Fatalf("videos resolutions = %v", videos.Resolutions)
	}
	for i := range want {
		if videos.Resolutions[i] != want[i] {
			t.Errorf("resolution %d = %v, want %v", i, videos.Resolutions[i], want[i])
		}
	}

	m := c[media.KindMedia]
	if m.SegmentDuration != 2*time.Second || len(m.Resolutions) != 5 || m.Resolutions[4].Size != 2160 {
		t.Errorf("media = %+v", m)
	}
}

func TestLoadCollections_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.toml")
	body := `
[collections.clips]
keep_original = false
segment_duration = 0.5
resolutions = [ { size = 360, bitrate = 800 } ]

[collections.broken]
segment_duration = 0
resolutions = []
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCollections(path)
	if err != nil {
		t.Fatalf("LoadCollections: %v", err)
	}
	clips := c["clips"]
	if clips.KeepOriginal || clips.SegmentDuration != 500*time.Millisecond || len(clips.Resolutions) != 1 {
		t.Errorf("clips = %+v", clips)
	}
	if _, err := media.Plan(c["broken"]); err == nil {
		t.Error("broken table should be rejected at plan time")
	}
	if !c["broken"].KeepOriginal {
		t.Error("keep_original defaults to true")
	}
}

func TestLoadCollections_unknown_field(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.toml")
	if err := os.WriteFile(path, []byte("[collections.videos]\nsegment_length = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCollections(path); err == nil {
		t.Error("expected unknown key to fail")
	}
}

func TestLoadCollections_empty_path_uses_defaults(t *testing.T) {
	c, err := LoadCollections("")
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 2 {
		t.Errorf("expected 2 default collections, got %d", len(c))
	}
}

func TestLoad_missing_file_is_ignored(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Load: %v", err)
	}
	if err := Load(""); err != nil {
		t.Errorf("Load empty path: %v", err)
	}
}
