package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const errorBodyLimit = 512

// HTTPConfig configures a transcoding service reached over an HTTP JSON API.
type HTTPConfig struct {
	Name                 string
	BaseURL              string
	Token                string
	PlaybackURLTemplate  string
	ThumbnailURLTemplate string
}

// HTTPAdapter uploads to a transcoding service that accepts the raw file at
// POST {base}/assets and answers with the created asset.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
	meter  Meter
}

// NewHTTPAdapter constructs an HTTPAdapter. A nil client uses http.DefaultClient.
func NewHTTPAdapter(cfg HTTPConfig, client *http.Client, meter Meter) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if meter.Provider == "" {
		meter.Provider = cfg.Name
	}
	return &HTTPAdapter{cfg: cfg, client: client, meter: meter}
}

// Registration returns the gateway registration of the adapter.
func (a *HTTPAdapter) Registration() Registration {
	return Registration{
		Name:     a.cfg.Name,
		Kind:     KindHTTP,
		Uploader: a,
		Assets:   a,
		Health:   a,
		Rates:    a.meter.Rates,
	}
}

// assetResponse is the body returned by the asset endpoints.
type assetResponse struct {
	ID              string  `json:"id"`
	PlaybackID      string  `json:"playback_id"`
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Upload streams the file to the service.
func (a *HTTPAdapter) Upload(ctx context.Context, req Request) (Result, error) {
	if a.cfg.BaseURL == "" {
		return Result{}, errors.New("http adapter: empty base url")
	}
	query := url.Values{}
	query.Set("filename", req.File.Name)
	query.Set("class", string(req.Class))
	query.Set("owner", strconv.FormatUint(req.Identity, 10))

	body := &detachableReader{r: req.File.Body}
	defer body.Detach()

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/assets?"+query.Encode(), body)
	if errReq != nil {
		return Result{}, fmt.Errorf("http adapter: build request: %w", errReq)
	}
	httpReq.ContentLength = req.File.Size
	httpReq.Header.Set("Content-Type", req.File.ContentType)
	a.authorize(httpReq)

	var asset assetResponse
	if errDo := a.do(httpReq, &asset); errDo != nil {
		return Result{}, errDo
	}
	if asset.ID == "" {
		return Result{}, errors.New("http adapter: response missing asset id")
	}
	if strings.EqualFold(asset.Status, "errored") {
		return Result{}, fmt.Errorf("http adapter: asset %s errored", asset.ID)
	}

	duration := decimal.Zero
	if asset.DurationSeconds > 0 {
		duration = decimal.NewFromFloat(asset.DurationSeconds).Div(decimal.NewFromInt(60))
	}
	cost := a.meter.Charge(ctx, req, asset.ID, duration)

	playback, _ := a.expand(a.cfg.PlaybackURLTemplate, asset.ID, asset.PlaybackID)
	thumbnail, _ := a.expand(a.cfg.ThumbnailURLTemplate, asset.ID, asset.PlaybackID)
	meta := map[string]any{"status": asset.Status}
	if asset.DurationSeconds > 0 {
		meta["duration_seconds"] = asset.DurationSeconds
	}
	return Result{
		Success:      true,
		AssetID:      asset.ID,
		PlaybackID:   asset.PlaybackID,
		URL:          playback,
		ThumbnailURL: thumbnail,
		Provider:     a.cfg.Name,
		Metadata:     meta,
		Cost:         cost,
	}, nil
}

// PlaybackURL expands the playback template for assetID.
func (a *HTTPAdapter) PlaybackURL(assetID string) (string, error) {
	return a.expand(a.cfg.PlaybackURLTemplate, assetID, assetID)
}

// ThumbnailURL expands the thumbnail template for assetID.
func (a *HTTPAdapter) ThumbnailURL(assetID string) (string, error) {
	return a.expand(a.cfg.ThumbnailURLTemplate, assetID, assetID)
}

// Delete removes the asset from the service.
func (a *HTTPAdapter) Delete(ctx context.Context, assetID string) error {
	if strings.TrimSpace(assetID) == "" {
		return errors.New("http adapter: empty asset id")
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodDelete, a.cfg.BaseURL+"/assets/"+url.PathEscape(assetID), nil)
	if errReq != nil {
		return fmt.Errorf("http adapter: build request: %w", errReq)
	}
	a.authorize(httpReq)
	return a.do(httpReq, nil)
}

// Check calls GET {base}/health.
func (a *HTTPAdapter) Check(ctx context.Context) error {
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/health", nil)
	if errReq != nil {
		return fmt.Errorf("http adapter: build request: %w", errReq)
	}
	a.authorize(httpReq)
	return a.do(httpReq, nil)
}

func (a *HTTPAdapter) authorize(req *http.Request) {
	if token := strings.TrimSpace(a.cfg.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (a *HTTPAdapter) do(req *http.Request, out any) error {
	resp, errDo := a.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("http adapter: request failed: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("http adapter: close response body failed")
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("http adapter: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if errDecode := json.NewDecoder(resp.Body).Decode(out); errDecode != nil {
		return fmt.Errorf("http adapter: decode response: %w", errDecode)
	}
	return nil
}

func (a *HTTPAdapter) expand(template, assetID, playbackID string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("%w: %s has no url template", ErrUnsupported, a.cfg.Name)
	}
	if playbackID == "" {
		playbackID = assetID
	}
	return strings.NewReplacer("{asset_id}", assetID, "{playback_id}", playbackID).Replace(template), nil
}

// detachableReader guards a shared body so the transport cannot read it after the
// attempt returned.
type detachableReader struct {
	mu       sync.Mutex
	r        io.Reader
	detached bool
}

func (d *detachableReader) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached || d.r == nil {
		return 0, io.ErrClosedPipe
	}
	return d.r.Read(p)
}

// Detach blocks until any in-flight read finishes and fails every later one.
func (d *detachableReader) Detach() {
	d.mu.Lock()
	d.detached = true
	d.mu.Unlock()
}
