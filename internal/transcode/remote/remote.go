// Package remote calls an encoder service over HTTP. The service answers a
// rendition request with the declared duration in a header and the rendition
// as framed packets in the body.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"abr-pipeline/internal/media"
	"abr-pipeline/internal/transcode"

	"github.com/google/uuid"
)

// DurationHeader carries the rendition's total duration in seconds.
const DurationHeader = "X-Rendition-Duration"

// Request is the JSON body of POST /v1/renditions.
type Request struct {
	RequestID       string  `json:"request_id"`
	SourceKey       string  `json:"source_key"`
	Height          int     `json:"height"`
	Width           int     `json:"width"`
	BitrateKbps     int     `json:"bitrate_kbps"`
	SegmentDuration float64 `json:"segment_duration"`
}

// Client implements transcode.Transcoder against a remote service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

var _ transcode.Transcoder = (*Client)(nil)

// Transcode implements transcode.Transcoder. The response body stays open
// until the rendition is closed.
func (c *Client) Transcode(ctx context.Context, src transcode.Source, spec media.RenditionSpec) (*transcode.Rendition, error) {
	body, err := json.Marshal(Request{
		RequestID:       uuid.NewString(),
		SourceKey:       src.Key,
		Height:          spec.Height,
		Width:           spec.Width(),
		BitrateKbps:     spec.BitrateKbps,
		SegmentDuration: spec.SegmentDuration.Seconds(),
	})
	if err != nil {
		return nil, media.TranscodeError(media.Permanent, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/renditions", bytes.NewReader(body))
	if err != nil {
		return nil, media.TranscodeError(media.Permanent, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, media.TranscodeError(media.Transient, "request", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return nil, media.TranscodeError(statusKind(resp.StatusCode), "request", err)
	}

	secs, err := strconv.ParseFloat(resp.Header.Get(DurationHeader), 64)
	if err != nil || secs <= 0 {
		resp.Body.Close()
		return nil, media.TranscodeError(media.Permanent, "response", errors.New("missing or invalid "+DurationHeader))
	}
	duration := time.Duration(secs * float64(time.Second))
	return transcode.NewRendition(spec, duration, transcode.NewFrameReader(resp.Body), resp.Body), nil
}

func statusKind(code int) media.Kind {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500 {
		return media.Transient
	}
	return media.Permanent
}
