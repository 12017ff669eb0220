// Package backend serves routes only server-side callers may use.
package backend

import (
	"fmt"
	"sort"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api/auth"
	"charhub/pkg/api/router"
	"charhub/pkg/api/utils"
	"charhub/pkg/config"
	"charhub/pkg/logger"
	mux "charhub/pkg/router"
)

func Register(r *mux.Router) {
	r.POST("/v1/_sign", Sign)
}

// Sign returns the HMAC a backend hands to its frontend so requests can act
// for userId without a session.
func Sign(ctx *fasthttp.RequestCtx) {
	if !utils.IsBackendRole(ctx) {
		logger.Warn("sign_forbidden", "role", utils.GetApiRole(ctx), "remote", ctx.RemoteAddr().String())
		router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
		return
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if !router.DecodeBodyOrFail(ctx, &payload) {
		return
	}
	if err := ValidateUserID(payload.UserID); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid user ID: %s", err.Error()))
		return
	}

	signingKey, err := SigningKey()
	if err != nil {
		logger.Error("sign_key_unavailable", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	sig := auth.CreateHMACSignature(payload.UserID, signingKey)
	logger.AuditInfo("user_signed", "user", payload.UserID)
	_ = router.WriteJSON(ctx, map[string]string{"userId": payload.UserID, "signature": sig})
}

func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if len(userID) > 128 {
		return fmt.Errorf("user ID too long")
	}
	return nil
}

// SigningKey picks the lowest signing key so every process signs with the same one.
func SigningKey() (string, error) {
	signingKeys := config.GetSigningKeys()
	if len(signingKeys) == 0 {
		return "", fmt.Errorf("signing keys not configured")
	}
	ks := make([]string, 0, len(signingKeys))
	for k := range signingKeys {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks[0], nil
}
