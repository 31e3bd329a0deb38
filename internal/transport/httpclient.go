// Package transport implements models.TransportClient over net/http: HEAD
// probing, ranged GETs against a request's primary URL with mirror
// fallback, and the TLS/proxy/header shaping a Download's Config asks for.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/corvidae/fetchmux/internal/models"
)

// HTTPClient is a models.TransportClient. Every chunk of a chunked
// download shares one HTTPClient instance, so it keeps a small pool of
// *http.Client keyed by the TLS/proxy shape a Download's Config asks for:
// sibling GetRange calls against the same host reuse the same underlying
// transport's keep-alive connections instead of each opening its own.
type HTTPClient struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[clientKey]*http.Client
}

// clientKey identifies the subset of DownloadConfig that changes what
// *http.Transport a request needs. Two Downloads with the same TLS/proxy
// settings and redirect policy can safely share one pooled client even if
// their other options differ.
type clientKey struct {
	insecureTLS     bool
	serverName      string
	minVersion      uint16
	maxVersion      uint16
	proxyAddr       string
	proxyUser       string
	followRedirects bool
	redirectsLimit  int
	timeout         time.Duration
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPClient{timeout: timeout, clients: make(map[clientKey]*http.Client)}
}

// Head issues a HEAD against req's primary URL, falling through to each
// mirror in turn, then to a ranged-GET fallback if every HEAD attempt
// fails or cfg.DisableHead is set. The returned status code is whichever
// response the metadata was parsed from -- callers that need to
// distinguish e.g. a 3xx from a 2xx (StatusRequest does) can inspect it
// directly rather than re-deriving it from the error alone.
func (h *HTTPClient) Head(ctx context.Context, req models.RequestOptions, cfg models.DownloadConfig) (*models.ResponseMetadata, map[string][]string, int, error) {
	if cfg.DisableHead {
		return h.headFallback(ctx, req, cfg)
	}
	client := h.clientFor(cfg)
	for _, u := range withMirrors(req) {
		r, err := http.NewRequestWithContext(ctx, http.MethodHead, addQuery(u, req), nil)
		if err != nil {
			continue
		}
		applyHeaders(r, req, cfg)
		resp, err := client.Do(r)
		if err != nil {
			continue
		}
		if resp.Body != nil {
			resp.Body.Close()
		}
		if resp.StatusCode >= 400 {
			continue
		}
		return parseMeta(resp), resp.Header, resp.StatusCode, nil
	}
	return h.headFallback(ctx, req, cfg)
}

// GetRange issues a ranged GET against req's primary URL, falling through
// to each configured mirror in turn on transport error or a >=400 status.
// The caller (LoadRequest's chunk retry loop) is responsible for deciding
// whether a non-206 response means the server ignored Range entirely.
func (h *HTTPClient) GetRange(ctx context.Context, req models.RequestOptions, cfg models.DownloadConfig, startInclusive int64, endInclusive int64) (io.ReadCloser, *models.ResponseMetadata, map[string][]string, int, error) {
	client := h.clientFor(cfg)
	var lastErr error
	var lastStatus int
	for _, u := range withMirrors(req) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, addQuery(u, req), nil)
		if err != nil {
			lastErr = err
			continue
		}
		r.Header.Set("Range", rangeHeader(startInclusive, endInclusive))
		applyHeaders(r, req, cfg)
		resp, err := client.Do(r)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			lastStatus = resp.StatusCode
			if resp.Body != nil {
				resp.Body.Close()
			}
			lastErr = errors.New("get range failed: " + resp.Status)
			continue
		}
		return resp.Body, parseMeta(resp), resp.Header, resp.StatusCode, nil
	}
	return nil, nil, nil, lastStatus, lastErr
}

func rangeHeader(startInclusive, endInclusive int64) string {
	v := "bytes=" + strconv.FormatInt(startInclusive, 10) + "-"
	if endInclusive >= 0 {
		v += strconv.FormatInt(endInclusive, 10)
	}
	return v
}

func (h *HTTPClient) headFallback(ctx context.Context, req models.RequestOptions, cfg models.DownloadConfig) (*models.ResponseMetadata, map[string][]string, int, error) {
	client := h.clientFor(cfg)
	var lastErr error
	var lastStatus int
	for _, u := range withMirrors(req) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, addQuery(u, req), nil)
		if err != nil {
			lastErr = err
			continue
		}
		r.Header.Set("Range", "bytes=0-")
		applyHeaders(r, req, cfg)
		resp, err := client.Do(r)
		if err != nil {
			lastErr = err
			continue
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			lastStatus = resp.StatusCode
			lastErr = errors.New("head fallback failed: " + resp.Status)
			continue
		}
		md := parseMeta(resp)
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if i := lastSlash(cr); i >= 0 {
				if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
					md.ContentLength = n
				}
			}
		}
		return md, resp.Header, resp.StatusCode, nil
	}
	return nil, nil, lastStatus, lastErr
}

// clientFor returns the pooled *http.Client matching cfg's TLS/proxy/
// redirect shape, building and caching one on first use.
func (h *HTTPClient) clientFor(cfg models.DownloadConfig) *http.Client {
	key := h.keyFor(cfg)

	h.mu.Lock()
	client, ok := h.clients[key]
	h.mu.Unlock()
	if ok {
		return client
	}

	client = h.buildClient(cfg)
	h.mu.Lock()
	h.clients[key] = client
	h.mu.Unlock()
	return client
}

func (h *HTTPClient) keyFor(cfg models.DownloadConfig) clientKey {
	k := clientKey{
		insecureTLS:     cfg.AllowInsecureTLS,
		followRedirects: cfg.FollowRedirects,
		redirectsLimit:  cfg.RedirectsLimit,
		timeout:         cfg.Timeout,
	}
	if cfg.TLS != nil {
		k.insecureTLS = k.insecureTLS || cfg.TLS.InsecureSkipVerify
		k.serverName = cfg.TLS.ServerName
		k.minVersion = cfg.TLS.MinVersion
		k.maxVersion = cfg.TLS.MaxVersion
	}
	if cfg.Proxy != nil && cfg.Proxy.IP != "" && cfg.Proxy.Port != 0 {
		k.proxyAddr = cfg.Proxy.IP + ":" + strconv.Itoa(cfg.Proxy.Port)
		k.proxyUser = cfg.Proxy.Username
	}
	return k
}

func (h *HTTPClient) buildClient(cfg models.DownloadConfig) *http.Client {
	tr := &http.Transport{}
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.AllowInsecureTLS}
	if cfg.TLS != nil {
		tr.TLSClientConfig.InsecureSkipVerify = cfg.TLS.InsecureSkipVerify || tr.TLSClientConfig.InsecureSkipVerify
		tr.TLSClientConfig.ServerName = cfg.TLS.ServerName
		if cfg.TLS.MinVersion != 0 {
			tr.TLSClientConfig.MinVersion = cfg.TLS.MinVersion
		}
		if cfg.TLS.MaxVersion != 0 {
			tr.TLSClientConfig.MaxVersion = cfg.TLS.MaxVersion
		}
	}
	if cfg.Proxy != nil && cfg.Proxy.IP != "" && cfg.Proxy.Port != 0 {
		u := &url.URL{Scheme: "http", Host: cfg.Proxy.IP + ":" + strconv.Itoa(cfg.Proxy.Port)}
		if cfg.Proxy.Username != "" {
			u.User = url.UserPassword(cfg.Proxy.Username, cfg.Proxy.Password)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	client := &http.Client{Transport: tr, Timeout: h.timeout}
	follow := cfg.FollowRedirects
	limit := cfg.RedirectsLimit
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if limit > 0 && len(via) >= limit {
			return errors.New("stopped after too many redirects")
		}
		return nil
	}
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return client
}

func parseMeta(resp *http.Response) *models.ResponseMetadata {
	md := &models.ResponseMetadata{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		AcceptRanges: resp.Header.Get("Accept-Ranges") == "bytes" || resp.Header.Get("Content-Range") != "",
		ContentType:  resp.Header.Get("Content-Type"),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			md.ContentLength = n
		}
	}
	return md
}

func applyHeaders(r *http.Request, req models.RequestOptions, cfg models.DownloadConfig) {
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36")
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "*/*")
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8,bn;q=0.7")
	}
	if r.Header.Get("Connection") == "" {
		r.Header.Set("Connection", "keep-alive")
	}
	if r.Header.Get("DNT") == "" {
		r.Header.Set("DNT", "1")
	}
	if r.Header.Get("sec-ch-ua") == "" {
		r.Header.Set("sec-ch-ua", `"Chromium";v="140", "Not=A?Brand";v="24", "Google Chrome";v="140"`)
	}
	for k, v := range cfg.Headers {
		r.Header.Set(k, v)
	}
	for k, v := range cfg.Cookies {
		r.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	if req.Extra != nil {
		for k, v := range req.Extra.Headers {
			r.Header.Set(k, v)
		}
		for k, v := range req.Extra.Cookies {
			r.AddCookie(&http.Cookie{Name: k, Value: v})
		}
		if r.Header.Get("Referer") == "" && req.URL != "" {
			if u, _ := url.Parse(req.URL); u != nil {
				r.Header.Set("Referer", u.Scheme+"://"+u.Host)
			}
		}
	}
	if cfg.Auth != nil {
		if cfg.Auth.BearerToken != "" {
			r.Header.Set("Authorization", "Bearer "+cfg.Auth.BearerToken)
		} else if cfg.Auth.Username != "" {
			r.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
		}
	}
}

func addQuery(u string, req models.RequestOptions) string {
	if req.Extra == nil || len(req.Extra.QueryParams) == 0 {
		return u
	}
	u2, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := u2.Query()
	for k, v := range req.Extra.QueryParams {
		q.Set(k, v)
	}
	u2.RawQuery = q.Encode()
	return u2.String()
}

func withMirrors(req models.RequestOptions) []string {
	urls := []string{req.URL}
	for _, m := range req.MirrorURLs {
		if m != "" {
			urls = append(urls, m)
		}
	}
	return urls
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
