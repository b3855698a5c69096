package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ingest"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
	"github.com/Michaelasereo/mylinnk-sub001/internal/ratelimit"
)

// Pipeline is the upload pipeline as seen by the HTTP layer.
type Pipeline interface {
	Upload(ctx context.Context, req ingest.Request) (*ingest.Response, error)
	Estimate(size int64, class media.ContentClass) (billing.CostEstimate, error)
	Quota(ctx context.Context, identity uint64, q plans.QuotaType, additional float64) billing.QuotaCheck
}

// UploadHandler serves upload, estimate and quota endpoints.
type UploadHandler struct {
	pipeline Pipeline
	maxBytes int64
	nowFn    func() time.Time
}

// NewUploadHandler constructs an UploadHandler. maxBytes caps request bodies when positive.
func NewUploadHandler(pipeline Pipeline, maxBytes int64) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, maxBytes: maxBytes, nowFn: time.Now}
}

// Create accepts a multipart upload with a `file` part and a `content_class` field.
func (h *UploadHandler) Create(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}

	header, errForm := c.FormFile("file")
	if errForm != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(errForm, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "kind": ingest.KindValidationFailed})
		return
	}
	class, errClass := media.ParseContentClass(c.PostForm("content_class"))
	if errClass != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_class must be video or image", "kind": ingest.KindValidationFailed})
		return
	}
	body, errOpen := header.Open()
	if errOpen != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer func() {
		if errClose := body.Close(); errClose != nil {
			log.WithError(errClose).Debug("http: close upload part")
		}
	}()

	resp, errUpload := h.pipeline.Upload(c.Request.Context(), ingest.Request{
		Identity: identity,
		Class:    class,
		File: media.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        body,
		},
	})
	now := h.nowFn()
	if errUpload != nil {
		h.renderError(c, errUpload, now)
		return
	}

	setRateLimitHeaders(c, resp.RateLimit, now)
	warnings := resp.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusCreated, gin.H{
		"url":           resp.URL,
		"asset_id":      resp.AssetID,
		"playback_id":   resp.PlaybackID,
		"thumbnail_url": resp.ThumbnailURL,
		"provider":      resp.Provider,
		"warnings":      warnings,
		"estimate":      estimateJSON(resp.Estimate),
		"charged":       moneyJSON(resp.Charged),
	})
}

func (h *UploadHandler) renderError(c *gin.Context, err error, now time.Time) {
	var rejected *ingest.Error
	if !errors.As(err, &rejected) {
		log.WithError(err).Error("http: upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed", "kind": ingest.KindInternal})
		return
	}

	body := gin.H{"error": rejected.Message, "kind": rejected.Kind}
	switch rejected.Kind {
	case ingest.KindRateLimited:
		if rejected.RateLimit != nil {
			setRateLimitHeaders(c, *rejected.RateLimit, now)
		}
		c.Header(ratelimit.HeaderRetryAfter, strconv.Itoa(rejected.RetryAfterSeconds))
		body["retry_after_seconds"] = rejected.RetryAfterSeconds
	case ingest.KindValidationFailed:
		if len(rejected.Warnings) > 0 {
			body["warnings"] = rejected.Warnings
		}
	case ingest.KindQuotaExceeded:
		body["quota_type"] = rejected.QuotaType
		if rejected.Quota != nil {
			body["quota"] = quotaJSON(*rejected.Quota)
		}
	case ingest.KindInsufficientFunds:
		if rejected.Estimate != nil {
			body["estimate"] = estimateJSON(*rejected.Estimate)
		}
	case ingest.KindInternal:
		body["error"] = "internal error"
	}
	c.JSON(rejected.HTTPStatus(), body)
}

// Estimate prices a hypothetical upload: GET /v1/estimate?size=&content_class=.
func (h *UploadHandler) Estimate(c *gin.Context) {
	size, errSize := strconv.ParseInt(strings.TrimSpace(c.Query("size")), 10, 64)
	if errSize != nil || size < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a non-negative integer"})
		return
	}
	class, errClass := media.ParseContentClass(c.Query("content_class"))
	if errClass != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_class must be video or image"})
		return
	}
	estimate, errEstimate := h.pipeline.Estimate(size, class)
	if errEstimate != nil {
		if errors.Is(errEstimate, billing.ErrNoRates) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errEstimate.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "estimate failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": size, "content_class": class, "estimate": estimateJSON(estimate)})
}

// Quota reports a quota of the caller: GET /v1/quota?type=&additional=.
func (h *UploadHandler) Quota(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	rawType := c.DefaultQuery("type", string(plans.QuotaStorage))
	q, errType := plans.ParseQuotaType(rawType)
	if errType != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be storage, bandwidth or uploads"})
		return
	}
	additional := 0.0
	if raw := strings.TrimSpace(c.Query("additional")); raw != "" {
		parsed, errParse := strconv.ParseFloat(raw, 64)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "additional must be a non-negative number"})
			return
		}
		additional = parsed
	}
	check := h.pipeline.Quota(c.Request.Context(), identity, q, additional)
	out := quotaJSON(check)
	out["type"] = q
	c.JSON(http.StatusOK, out)
}
