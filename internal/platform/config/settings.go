package config

import "time"

// Settings is the service configuration read from the environment.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	Workers     int
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration

	StorageBackend  string // memory, fs, gcs or s3
	StorageDir      string
	StorageBucket   string
	StorageEndpoint string
	StorageRegion   string
	GCSCredentials  string
	StorageAttempts int
	StorageTimeout  time.Duration

	MediaPrefix    string
	SegmentsPrefix string
	MaxSourceBytes int64

	Transcoder    string // ffmpeg or remote
	FFmpegPath    string
	FFprobePath   string
	FFmpegWorkDir string
	RemoteURL     string
	RemoteToken   string

	CollectionsFile string
	RedisURL        string
	RedisChannel    string
	RecordsDB       string
}

// FromEnv reads Settings, applying defaults for anything unset.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		Workers:     GetEnvInt("WORKER_POOL_SIZE", 2),
		MaxAttempts: GetEnvInt("JOB_MAX_ATTEMPTS", 3),
		RetryBase:   GetEnvDuration("JOB_RETRY_BASE", time.Second),
		RetryMax:    GetEnvDuration("JOB_RETRY_MAX", 30*time.Second),

		StorageBackend:  GetEnv("STORAGE_BACKEND", "memory"),
		StorageDir:      GetEnv("STORAGE_DIR", "./data/blobs"),
		StorageBucket:   GetEnv("STORAGE_BUCKET", ""),
		StorageEndpoint: GetEnv("STORAGE_ENDPOINT", ""),
		StorageRegion:   GetEnv("STORAGE_REGION", "us-east-1"),
		GCSCredentials:  GetEnv("GCS_CREDENTIALS_FILE", ""),
		StorageAttempts: GetEnvInt("STORAGE_ATTEMPTS", 3),
		StorageTimeout:  GetEnvDuration("STORAGE_TIMEOUT", 30*time.Second),

		MediaPrefix:    GetEnv("MEDIA_PREFIX", "media"),
		SegmentsPrefix: GetEnv("SEGMENTS_PREFIX", "segments"),
		MaxSourceBytes: GetEnvInt64("MAX_SOURCE_BYTES", 50_000_000),

		Transcoder:    GetEnv("TRANSCODER", "ffmpeg"),
		FFmpegPath:    GetEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:   GetEnv("FFPROBE_PATH", "ffprobe"),
		FFmpegWorkDir: GetEnv("FFMPEG_WORK_DIR", ""),
		RemoteURL:     GetEnv("REMOTE_TRANSCODER_URL", ""),
		RemoteToken:   GetEnv("REMOTE_TRANSCODER_TOKEN", ""),

		CollectionsFile: GetEnv("COLLECTIONS_FILE", ""),
		RedisURL:        GetEnv("REDIS_URL", ""),
		RedisChannel:    GetEnv("REDIS_CHANNEL", "abr.assets"),
		RecordsDB:       GetEnv("RECORDS_DB", ""),
	}
}
