// Package remote implements the signed client for the upstream video
// platform API: sorted-query mixin-key signing, envelope validation, and
// bounded retry with backoff, layered on top of internal/httpclient's
// circuit breaker and transparent decompression.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/biliarchive/biliarchive/internal/config"
	"github.com/biliarchive/biliarchive/internal/httpclient"
	"github.com/biliarchive/biliarchive/internal/models"
)

// navEndpoint reports the current wbi img/sub key pair used to derive the
// mixin key. It changes daily on the platform side.
const navEndpoint = "https://api.bilibili.com/x/web-interface/nav"

// envelope is the {code,message,data} response shape every endpoint uses.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Risk-control and credential envelope codes. These are the codes the
// platform is documented to return; anything else non-zero becomes a plain
// EnvelopeError.
const (
	codeOK                      = 0
	codeRiskControl             = -352
	codeRiskControlVerification = -352001 // embeds a verification voucher in data
	codeCredentialExpired       = -101
	codeCredentialExpiredAlt    = -111
	codeContentUnavailable      = -404 // "啥都木有" — video deleted or never existed
)

// mixinKeyState holds the currently active mixin key and when it was
// derived, swapped atomically under a mutex so concurrent requests never
// observe a half-updated key.
type mixinKeyState struct {
	key       string
	derivedAt time.Time
}

// Client is the signed remote API client. One Client should be shared by
// all sources; it owns the rate limiter and mixin key cache, both of which
// are meant to be process-wide, not per-source.
type Client struct {
	httpClient *httpclient.Client
	limiter    *rate.Limiter
	cfg        config.RemoteConfig
	logger     *slog.Logger

	mu    sync.Mutex
	state mixinKeyState

	// sessData, if set, is sent as the SESSDATA cookie on every request.
	// Acquiring it is an external collaborator's job (spec: remote-API
	// credential signing is out of scope); the client only carries it.
	sessData string

	// navOverride replaces navEndpoint when set, for tests.
	navOverride string
}

// New creates a remote Client from the resolved configuration.
func New(cfg config.RemoteConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.HTTPTimeout.Duration()
	httpCfg.RetryAttempts = cfg.RetryAttempts
	httpCfg.RetryDelay = cfg.RetryBaseDelay.Duration()
	httpCfg.CircuitThreshold = cfg.CircuitThreshold
	httpCfg.CircuitTimeout = cfg.CircuitTimeout.Duration()
	httpCfg.UserAgent = cfg.UserAgent
	httpCfg.Logger = logger

	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient: httpclient.New(httpCfg),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetCredential sets the session cookie used to authenticate requests that
// need a logged-in identity (watch-later, some favorites). Acquiring and
// refreshing the credential itself is an external collaborator's job; the
// client surfaces CredentialExpiredError when the platform rejects it.
func (c *Client) SetCredential(sessData string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessData = sessData
}

// SignedGet issues a signed GET request against endpoint with the given
// query parameters, decodes the {code,message,data} envelope, and unmarshals
// data into out (which may be nil to discard the payload).
func (c *Client) SignedGet(ctx context.Context, endpoint string, params url.Values, out any) error {
	mixin, err := c.currentMixinKey(ctx)
	if err != nil {
		return fmt.Errorf("deriving mixin key: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	signed := signQuery(params, mixin, time.Now())

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := endpoint + "?" + signed.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if c.sessData != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.sessData})
	}
	req.Header.Set("Referer", "https://www.bilibili.com/")

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}

	if err := classifyEnvelope(env); err != nil {
		return err
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding envelope data: %w", err)
		}
	}
	return nil
}

// FetchRaw issues a signed GET the same way SignedGet does, but returns the
// raw response body instead of decoding a {code,message,data} envelope.
// Used for endpoints that respond with a binary payload directly, such as
// the danmaku segment endpoint's protobuf body.
func (c *Client) FetchRaw(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	mixin, err := c.currentMixinKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("deriving mixin key: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	signed := signQuery(params, mixin, time.Now())

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := endpoint + "?" + signed.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.sessData != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.sessData})
	}
	req.Header.Set("Referer", "https://www.bilibili.com/")

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// classifyEnvelope maps a non-zero envelope code to the typed error the
// scheduler and pipeline distinguish on.
func classifyEnvelope(env envelope) error {
	switch env.Code {
	case codeOK:
		return nil
	case codeCredentialExpired, codeCredentialExpiredAlt:
		return &models.CredentialExpiredError{Code: env.Code, Message: env.Message}
	case codeRiskControlVerification:
		var voucher struct {
			V string `json:"v_voucher"`
		}
		_ = json.Unmarshal(env.Data, &voucher)
		return &models.RiskControlVerificationRequiredError{Code: env.Code, Message: env.Message, Voucher: voucher.V}
	case codeRiskControl:
		return &models.RiskControlError{Code: env.Code, Message: env.Message}
	default:
		return &models.EnvelopeError{Code: env.Code, Message: env.Message}
	}
}

// currentMixinKey returns the cached mixin key, refreshing it from the nav
// endpoint if it is missing or older than the configured TTL.
func (c *Client) currentMixinKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	ttl := c.cfg.MixinKeyTTL.Duration()
	if state.key != "" && time.Since(state.derivedAt) < ttl {
		return state.key, nil
	}

	imgKey, subKey, err := c.fetchWbiKeys(ctx)
	if err != nil {
		// Fall back to a stale key rather than failing outright; the
		// platform tolerates a short grace window on key rotation.
		if state.key != "" {
			c.logger.Warn("wbi key refresh failed, reusing stale mixin key", slog.String("error", err.Error()))
			return state.key, nil
		}
		return "", err
	}

	newKey := deriveMixinKey(imgKey, subKey)

	c.mu.Lock()
	c.state = mixinKeyState{key: newKey, derivedAt: time.Now()}
	c.mu.Unlock()

	return newKey, nil
}

// fetchWbiKeys retrieves the current img_key/sub_key pair from the nav
// endpoint. The keys are embedded as the final path segment of two CDN
// asset URLs.
func (c *Client) fetchWbiKeys(ctx context.Context) (imgKey, subKey string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := navEndpoint
	if c.navOverride != "" {
		endpoint = c.navOverride
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", "", fmt.Errorf("building nav request: %w", err)
	}
	if c.sessData != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.sessData})
	}

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("fetching nav: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Code int `json:"code"`
		Data struct {
			WbiImg struct {
				ImgURL string `json:"img_url"`
				SubURL string `json:"sub_url"`
			} `json:"wbi_img"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", "", fmt.Errorf("decoding nav response: %w", err)
	}

	return assetKey(env.Data.WbiImg.ImgURL), assetKey(env.Data.WbiImg.SubURL), nil
}

// assetKey extracts the bare filename (sans extension) from a CDN asset
// URL, which is how the platform embeds the wbi key components.
func assetKey(assetURL string) string {
	base := path.Base(assetURL)
	return strings.TrimSuffix(base, path.Ext(base))
}
