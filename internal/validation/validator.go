package validation

import (
	"fmt"
	"net/url"

	"github.com/corvidae/fetchmux/internal/models"
)

// NoopValidator accepts everything; kept for tests and for callers that
// enqueue only pre-validated requests (e.g. a trusted internal caller).
type NoopValidator struct{}

func (NoopValidator) ValidateRequest(req models.RequestOptions) error   { return nil }
func (NoopValidator) ValidateConfig(cfg models.DownloadConfig) error    { return nil }
func (NoopValidator) ValidateFileOptions(file models.FileOptions) error { return nil }

// URLValidator checks the shape of a request/config/file options triple
// before it reaches the scheduler, matching models.Validator.
type URLValidator struct{}

func (URLValidator) ValidateRequest(req models.RequestOptions) error {
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	if err := validateAbsoluteHTTPURL(req.URL); err != nil {
		return err
	}
	for _, m := range req.MirrorURLs {
		if err := validateAbsoluteHTTPURL(m); err != nil {
			return fmt.Errorf("mirror url %q: %w", m, err)
		}
	}
	return nil
}

func (URLValidator) ValidateConfig(cfg models.DownloadConfig) error {
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if cfg.RedirectsLimit < 0 {
		return fmt.Errorf("redirects_limit must not be negative")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}

func (URLValidator) ValidateFileOptions(file models.FileOptions) error {
	if file.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must not be negative")
	}
	return nil
}

func validateAbsoluteHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url is missing a host")
	}
	return nil
}
