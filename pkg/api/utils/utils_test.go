package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer   abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		var ctx fasthttp.RequestCtx
		if tt.header != "" {
			ctx.Request.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, ExtractBearer(&ctx), tt.header)
	}
}

func TestExtractAPIKeyIgnoresAuthorization(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Authorization", "Bearer session")
	assert.Equal(t, "", ExtractAPIKey(&ctx))
	ctx.Request.Header.Set("X-API-Key", " key ")
	assert.Equal(t, "key", ExtractAPIKey(&ctx))
}

func TestQueryHelpers(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/admin/events?limit=5&dry_run=yes&bad=x")
	assert.Equal(t, 5, GetQueryInt(&ctx, "limit", 50))
	assert.Equal(t, 50, GetQueryInt(&ctx, "bad", 50))
	assert.True(t, GetQueryBool(&ctx, "dry_run"))
	assert.False(t, GetQueryBool(&ctx, "missing"))
}

func TestRequestUser(t *testing.T) {
	var ctx fasthttp.RequestCtx
	assert.Equal(t, "", RequestUser(&ctx))
	ctx.SetUserValue("user", "u1")
	assert.Equal(t, "u1", RequestUser(&ctx))
}

func TestHasPath(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/readyz?verbose=1")
	assert.True(t, HasPath(&ctx, "/healthz", "/readyz"))
	assert.False(t, HasPath(&ctx, "/healthz"))
	assert.False(t, HasPath(&ctx))
}
