package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// S3Config configures an object storage adapter.
type S3Config struct {
	Name   string
	Bucket string
	Region string
	// PublicBaseURL is the CDN origin serving the bucket; empty uses the bucket URL.
	PublicBaseURL string
}

// S3Adapter stores files as objects under media/<class>/<identity>/.
type S3Adapter struct {
	cfg      S3Config
	uploader s3manageriface.UploaderAPI
	client   s3iface.S3API
	meter    Meter
	nowFn    func() time.Time
}

// NewS3Adapter constructs an S3Adapter. client may be nil when delete and health
// checks are not needed.
func NewS3Adapter(cfg S3Config, uploader s3manageriface.UploaderAPI, client s3iface.S3API, meter Meter) *S3Adapter {
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if meter.Provider == "" {
		meter.Provider = cfg.Name
	}
	return &S3Adapter{cfg: cfg, uploader: uploader, client: client, meter: meter, nowFn: time.Now}
}

// Registration returns the gateway registration of the adapter.
func (a *S3Adapter) Registration() Registration {
	reg := Registration{
		Name:     a.cfg.Name,
		Kind:     KindS3,
		Uploader: a,
		Assets:   a,
		Rates:    a.meter.Rates,
	}
	if a.client != nil {
		reg.Health = a
	}
	return reg
}

// ObjectKey builds the storage key of an upload.
func (a *S3Adapter) ObjectKey(req Request) string {
	ext := req.File.Extension()
	if ext != "" {
		ext = "." + ext
	}
	return fmt.Sprintf("media/%s/%d/%d_%s%s", req.Class, req.Identity, a.nowFn().UnixNano(), uuid.NewString(), ext)
}

// Upload puts the file into the bucket.
func (a *S3Adapter) Upload(ctx context.Context, req Request) (Result, error) {
	if a.uploader == nil {
		return Result{}, errors.New("s3 adapter: uploader not configured")
	}
	key := a.ObjectKey(req)
	_, errUpload := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        req.File.Body,
		ContentType: aws.String(req.File.ContentType),
	})
	if errUpload != nil {
		return Result{}, fmt.Errorf("s3 adapter: upload: %w", errUpload)
	}

	cost := a.meter.Charge(ctx, req, key, decimal.Zero)
	objectURL := a.objectURL(key)
	return Result{
		Success:      true,
		AssetID:      key,
		URL:          objectURL,
		ThumbnailURL: objectURL,
		Provider:     a.cfg.Name,
		Metadata:     map[string]any{"bucket": a.cfg.Bucket, "key": key},
		Cost:         cost,
	}, nil
}

// PlaybackURL returns the public URL of the object.
func (a *S3Adapter) PlaybackURL(assetID string) (string, error) {
	if assetID == "" {
		return "", errors.New("s3 adapter: empty asset id")
	}
	return a.objectURL(assetID), nil
}

// ThumbnailURL returns the public URL of the object; images are their own thumbnail.
func (a *S3Adapter) ThumbnailURL(assetID string) (string, error) {
	return a.PlaybackURL(assetID)
}

// Delete removes the object.
func (a *S3Adapter) Delete(ctx context.Context, assetID string) error {
	if a.client == nil {
		return fmt.Errorf("%w: %s has no s3 client", ErrUnsupported, a.cfg.Name)
	}
	_, errDelete := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(assetID),
	})
	if errDelete != nil {
		return fmt.Errorf("s3 adapter: delete: %w", errDelete)
	}
	return nil
}

// Check verifies the bucket is reachable.
func (a *S3Adapter) Check(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("%w: %s has no s3 client", ErrUnsupported, a.cfg.Name)
	}
	_, errHead := a.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.cfg.Bucket)})
	if errHead != nil {
		return fmt.Errorf("s3 adapter: head bucket: %w", errHead)
	}
	return nil
}

func (a *S3Adapter) objectURL(key string) string {
	if a.cfg.PublicBaseURL != "" {
		return a.cfg.PublicBaseURL + "/" + key
	}
	if a.cfg.Region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.cfg.Bucket, a.cfg.Region, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", a.cfg.Bucket, key)
}
