package app

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/billing"
	"github.com/Michaelasereo/mylinnk-sub001/internal/config"
	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/money"
	"github.com/Michaelasereo/mylinnk-sub001/internal/provider"
)

// buildRoutes constructs the configured adapters and orders them per content class.
func buildRoutes(cfg config.Config, cur money.Currency, estimator *billing.Estimator, sink provider.UsageSink, client *http.Client) (map[media.ContentClass][]provider.Registration, error) {
	routes := make(map[media.ContentClass][]provider.Registration)
	seen := make(map[string]struct{}, len(cfg.Providers.Adapters))
	for _, adapterCfg := range cfg.Providers.Adapters {
		name := strings.TrimSpace(adapterCfg.Name)
		if name == "" {
			return nil, fmt.Errorf("provider adapter without a name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate provider adapter %q", name)
		}
		seen[name] = struct{}{}

		classes, errClasses := adapterCfg.ContentClasses()
		if errClasses != nil {
			return nil, errClasses
		}
		if len(classes) == 0 {
			log.WithField("provider", name).Warn("app: provider adapter serves no content class, skipping")
			continue
		}
		rates, errRates := adapterCfg.RateTable(cur)
		if errRates != nil {
			return nil, errRates
		}
		meter := provider.Meter{Provider: name, Rates: rates, Estimator: estimator, Sink: sink}

		reg, errReg := buildRegistration(adapterCfg, meter, client)
		if errReg != nil {
			return nil, fmt.Errorf("provider %s: %w", name, errReg)
		}
		reg.Timeout = adapterCfg.Timeout
		for _, class := range classes {
			routes[class] = append(routes[class], reg)
		}
	}
	return routes, nil
}

func buildRegistration(adapterCfg config.AdapterConfig, meter provider.Meter, client *http.Client) (provider.Registration, error) {
	switch provider.Kind(strings.ToLower(strings.TrimSpace(adapterCfg.Kind))) {
	case provider.KindHTTP:
		if strings.TrimSpace(adapterCfg.BaseURL) == "" {
			return provider.Registration{}, fmt.Errorf("http adapter requires base-url")
		}
		return provider.NewHTTPAdapter(provider.HTTPConfig{
			Name:                 adapterCfg.Name,
			BaseURL:              adapterCfg.BaseURL,
			Token:                adapterCfg.Token,
			PlaybackURLTemplate:  adapterCfg.PlaybackURLTemplate,
			ThumbnailURLTemplate: adapterCfg.ThumbnailURLTemplate,
		}, client, meter).Registration(), nil
	case provider.KindS3:
		if strings.TrimSpace(adapterCfg.Bucket) == "" {
			return provider.Registration{}, fmt.Errorf("s3 adapter requires bucket")
		}
		awsCfg := &aws.Config{}
		if region := strings.TrimSpace(adapterCfg.Region); region != "" {
			awsCfg.Region = aws.String(region)
		}
		if endpoint := strings.TrimSpace(adapterCfg.Endpoint); endpoint != "" {
			awsCfg.Endpoint = aws.String(endpoint)
			awsCfg.S3ForcePathStyle = aws.Bool(true)
		}
		sess, errSession := session.NewSession(awsCfg)
		if errSession != nil {
			return provider.Registration{}, fmt.Errorf("aws session: %w", errSession)
		}
		return provider.NewS3Adapter(provider.S3Config{
			Name:          adapterCfg.Name,
			Bucket:        adapterCfg.Bucket,
			Region:        adapterCfg.Region,
			PublicBaseURL: adapterCfg.PublicBaseURL,
		}, s3manager.NewUploader(sess), s3.New(sess), meter).Registration(), nil
	default:
		return provider.Registration{}, fmt.Errorf("unknown adapter kind %q", adapterCfg.Kind)
	}
}
