package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biliarchive/biliarchive/internal/config"
)

func testRemoteConfig() config.RemoteConfig {
	return config.RemoteConfig{
		HTTPTimeout:        config.Duration(5 * time.Second),
		RetryAttempts:      0,
		RetryBaseDelay:     config.Duration(10 * time.Millisecond),
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
		MixinKeyTTL:        config.Duration(time.Minute),
		CircuitThreshold:   100,
		CircuitTimeout:     config.Duration(time.Second),
		UserAgent:          "biliarchive-test/1.0",
	}
}

func TestClassifyEnvelope(t *testing.T) {
	assert.NoError(t, classifyEnvelope(envelope{Code: 0}))

	err := classifyEnvelope(envelope{Code: -101, Message: "expired"})
	assert.ErrorContains(t, err, "credential expired")

	err = classifyEnvelope(envelope{Code: -352, Message: "risk"})
	assert.ErrorContains(t, err, "risk control triggered")

	err = classifyEnvelope(envelope{Code: -352001, Message: "verify", Data: json.RawMessage(`{"v_voucher":"abc123"}`)})
	assert.ErrorContains(t, err, "verification required")

	err = classifyEnvelope(envelope{Code: -999, Message: "other"})
	assert.ErrorContains(t, err, "remote error")
}

func TestClient_SignedGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/nav" {
			_, _ = w.Write([]byte(`{"code":0,"data":{"wbi_img":{"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png","sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
			return
		}
		assert.NotEmpty(t, r.URL.Query().Get("w_rid"))
		_, _ = w.Write([]byte(`{"code":0,"message":"","data":{"title":"hello"}}`))
	}))
	defer srv.Close()

	c := New(testRemoteConfig(), nil)
	c.navOverride = srv.URL + "/nav"

	var out struct {
		Title string `json:"title"`
	}
	err := c.SignedGet(context.Background(), srv.URL+"/x/web-interface/view", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Title)
}

func TestClient_SignedGet_RiskControl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/nav" {
			_, _ = w.Write([]byte(`{"code":0,"data":{"wbi_img":{"img_url":"https://x/a.png","sub_url":"https://x/b.png"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":-352,"message":"risk control"}`))
	}))
	defer srv.Close()

	c := New(testRemoteConfig(), nil)
	c.navOverride = srv.URL + "/nav"

	err := c.SignedGet(context.Background(), srv.URL+"/x/web-interface/view", nil, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "risk control")
}

func TestClient_MixinKeyCached(t *testing.T) {
	navCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/nav" {
			navCalls++
			_, _ = w.Write([]byte(`{"code":0,"data":{"wbi_img":{"img_url":"https://x/a.png","sub_url":"https://x/b.png"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
	}))
	defer srv.Close()

	c := New(testRemoteConfig(), nil)
	c.navOverride = srv.URL + "/nav"

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SignedGet(context.Background(), srv.URL+"/x/v", nil, nil))
	}
	assert.Equal(t, 1, navCalls)
}
