package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"charhub/pkg/api/auth"
	"charhub/pkg/config"
)

func signRequest(role, body string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/v1/_sign")
	ctx.Request.Header.Set("X-Role-Name", role)
	ctx.Request.SetBodyString(body)
	return &ctx
}

func TestSign(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"k2": {}, "k1": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	ctx := signRequest("backend", `{"userId":"u1"}`)
	Sign(ctx)
	require.Equal(t, 200, ctx.Response.StatusCode())
	var out map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	assert.Equal(t, "u1", out["userId"])
	assert.Equal(t, auth.CreateHMACSignature("u1", "k1"), out["signature"])
	assert.True(t, auth.VerifyHMACSignature("u1", out["signature"]))
}

func TestSignRejects(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"k1": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	tests := []struct {
		name   string
		role   string
		body   string
		status int
	}{
		{"frontend", "frontend", `{"userId":"u1"}`, 403},
		{"empty user", "backend", `{"userId":""}`, 400},
		{"bad json", "backend", `{`, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := signRequest(tt.role, tt.body)
			Sign(ctx)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
		})
	}
}

func TestSignWithoutKeys(t *testing.T) {
	config.SetRuntime(nil)
	ctx := signRequest("backend", `{"userId":"u1"}`)
	Sign(ctx)
	assert.Equal(t, 500, ctx.Response.StatusCode())
}
