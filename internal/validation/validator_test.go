package validation

import (
	"testing"

	"github.com/corvidae/fetchmux/internal/models"
)

func TestURLValidator_ValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     models.RequestOptions
		wantErr bool
	}{
		{name: "valid https url", req: models.RequestOptions{URL: "https://example.com/file.zip"}, wantErr: false},
		{name: "empty url", req: models.RequestOptions{}, wantErr: true},
		{name: "missing scheme", req: models.RequestOptions{URL: "example.com/file.zip"}, wantErr: true},
		{name: "unsupported scheme", req: models.RequestOptions{URL: "ftp://example.com/file.zip"}, wantErr: true},
		{
			name: "invalid mirror url",
			req: models.RequestOptions{
				URL:        "https://example.com/file.zip",
				MirrorURLs: []string{"not-a-url"},
			},
			wantErr: true,
		},
		{
			name: "valid mirrors",
			req: models.RequestOptions{
				URL:        "https://example.com/file.zip",
				MirrorURLs: []string{"https://mirror1.example.com/file.zip"},
			},
			wantErr: false,
		},
	}

	v := URLValidator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRequest(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestURLValidator_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     models.DownloadConfig
		wantErr bool
	}{
		{name: "zero value is fine", cfg: models.DownloadConfig{}, wantErr: false},
		{name: "negative max connections", cfg: models.DownloadConfig{MaxConnections: -1}, wantErr: true},
		{name: "negative redirects limit", cfg: models.DownloadConfig{RedirectsLimit: -1}, wantErr: true},
	}
	v := URLValidator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
