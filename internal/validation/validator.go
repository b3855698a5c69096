// Package validation inspects uploaded files before any cost is incurred.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/plans"
)

const mib = 1 << 20

// Result is the immutable outcome of a validation run.
type Result struct {
	Valid    bool
	Error    string
	Warnings []string
}

func failed(msg string, warnings []string) Result {
	return Result{Valid: false, Error: msg, Warnings: warnings}
}

// PlanResolver resolves the plan tier of a caller identity.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, identity uint64) (plans.Tier, error)
}

// Moderator is the content moderation extension point. It only ever adds warnings.
type Moderator interface {
	Review(ctx context.Context, file media.File, class media.ContentClass) []string
}

// NoopModerator performs no moderation.
type NoopModerator struct{}

// Review reports that moderation was skipped.
func (NoopModerator) Review(context.Context, media.File, media.ContentClass) []string {
	return []string{"content moderation not performed"}
}

// Config holds the class-wide size rules.
type Config struct {
	// MaxBytes is the class-wide hard ceiling applied before the plan lookup.
	MaxBytes map[media.ContentClass]int64 `yaml:"max-bytes"`
	// WarnBytes is the size above which a compression warning is added.
	WarnBytes map[media.ContentClass]int64 `yaml:"warn-bytes"`
	// MinBytes is the absolute floor below which a file is rejected.
	MinBytes int64 `yaml:"min-bytes"`
}

// DefaultConfig returns the stock size rules.
func DefaultConfig() Config {
	return Config{
		MaxBytes: map[media.ContentClass]int64{
			media.ClassVideo: 500 * mib,
			media.ClassImage: 20 * mib,
		},
		WarnBytes: map[media.ContentClass]int64{
			media.ClassVideo: 100 * mib,
			media.ClassImage: 5 * mib,
		},
		MinBytes: 100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinBytes <= 0 {
		c.MinBytes = def.MinBytes
	}
	if c.MaxBytes == nil {
		c.MaxBytes = def.MaxBytes
	}
	if c.WarnBytes == nil {
		c.WarnBytes = def.WarnBytes
	}
	return c
}

// Validator runs the type, size, signature and heuristic checks.
type Validator struct {
	cfg       Config
	plans     plans.Table
	resolver  PlanResolver
	moderator Moderator
}

// NewValidator constructs a Validator. A nil resolver treats every caller as FREE.
func NewValidator(cfg Config, table plans.Table, resolver PlanResolver, moderator Moderator) *Validator {
	if table == nil {
		table = plans.DefaultTable()
	}
	if moderator == nil {
		moderator = NoopModerator{}
	}
	return &Validator{
		cfg:       cfg.withDefaults(),
		plans:     table,
		resolver:  resolver,
		moderator: moderator,
	}
}

// Validate inspects file for identity. The first hard failure wins; warnings accumulate.
func (v *Validator) Validate(ctx context.Context, file media.File, identity uint64, class media.ContentClass) Result {
	var warnings []string
	contentType := normalizeContentType(file.ContentType)

	// Type and extension.
	if _, bad := suspiciousExtensions[file.Extension()]; bad {
		return failed(fmt.Sprintf("file extension %q is not allowed", "."+file.Extension()), warnings)
	}
	if !isAllowedType(class, contentType) {
		return failed(fmt.Sprintf("content type %q is not allowed for %s uploads", file.ContentType, class), warnings)
	}

	// Size ceilings.
	if limit := v.cfg.MaxBytes[class]; limit > 0 && file.Size > limit {
		return failed(sizeMessage(file.Size, limit, fmt.Sprintf("for %s uploads", class)), warnings)
	}
	tier := v.resolveTier(ctx, identity)
	if limit := v.plans.MaxBytes(tier, class); limit > 0 && file.Size > limit {
		return failed(sizeMessage(file.Size, limit, fmt.Sprintf("for %s uploads on the %s plan", class, tier)), warnings)
	}

	// Magic numbers.
	header, errHeader := file.Header(HeaderSize)
	if errHeader != nil {
		return failed(fmt.Sprintf("unable to read file: %v", errHeader), warnings)
	}
	if !MatchesSignature(contentType, header) {
		return failed("invalid file format", warnings)
	}
	if sniffed := mimetype.Detect(header); !sniffed.Is(contentType) {
		warnings = append(warnings, fmt.Sprintf("detected content type %s differs from declared %s", sniffed.String(), contentType))
	}

	// Heuristics.
	lowerName := strings.ToLower(file.Name)
	for _, marker := range injectionMarkers {
		if strings.Contains(lowerName, marker) {
			return failed("file name contains suspicious content", warnings)
		}
	}
	if file.Size < v.cfg.MinBytes {
		return failed(fmt.Sprintf("file is suspiciously small (%s)", humanize.IBytes(uint64(max(file.Size, 0)))), warnings)
	}
	if warn := v.cfg.WarnBytes[class]; warn > 0 && file.Size > warn {
		warnings = append(warnings, fmt.Sprintf("file is larger than %s; compression is recommended", humanize.IBytes(uint64(warn))))
	}

	warnings = append(warnings, v.moderator.Review(ctx, file, class)...)
	return Result{Valid: true, Warnings: warnings}
}

func (v *Validator) resolveTier(ctx context.Context, identity uint64) plans.Tier {
	if v.resolver == nil {
		return plans.Free
	}
	tier, errResolve := v.resolver.ResolvePlan(ctx, identity)
	if errResolve != nil {
		log.WithError(errResolve).WithField("user_id", identity).Warn("validation: plan lookup failed, applying FREE limits")
		return plans.Free
	}
	return tier
}

func sizeMessage(size, limit int64, scope string) string {
	return fmt.Sprintf("file size %s (%s bytes) exceeds the %s (%s bytes) limit %s",
		humanize.IBytes(uint64(size)), humanize.Comma(size),
		humanize.IBytes(uint64(limit)), humanize.Comma(limit), scope)
}

func normalizeContentType(raw string) string {
	if idx := strings.Index(raw, ";"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
