package controllers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stonetify/auth"
	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/spotify"
	"stonetify/tokens"
	"stonetify/upstream"
	"stonetify/users"
	"stonetify/utils"
)

// Dependencies wires the OAuth core into the HTTP handlers.
type Dependencies struct {
	States        *auth.StateStore
	Codes         *auth.OneTimeCodeStore
	Sessions      *auth.Sessions
	Tokens        *tokens.Service
	Upstream      *upstream.Client
	Users         *users.Store
	Player        *spotify.Player
	AppReturnURLs []string
	Logger        *zap.Logger
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

const fixedProviderKey = "fixed_provider"

// FixedProvider pins the provider for routes without a :provider segment.
func FixedProvider(provider models.Provider) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(fixedProviderKey, provider)
		ctx.Next()
	}
}

func providerParam(ctx *gin.Context) (models.Provider, error) {
	if v, ok := ctx.Get(fixedProviderKey); ok {
		if p, ok := v.(models.Provider); ok {
			return p, nil
		}
	}
	p, err := models.ParseProvider(ctx.Param("provider"))
	if err != nil {
		return "", oautherr.Validation("controllers", "%s", err.Error())
	}
	return p, nil
}

// respondError logs failures the client cannot fix and writes the mapped
// response.
func respondError(ctx *gin.Context, log *zap.Logger, op string, err error) {
	switch oautherr.KindOf(err) {
	case oautherr.KindDependency, oautherr.KindMissingConfig, oautherr.KindUnknown:
		log.Error(op+" failed",
			zap.String("request_id", ctx.GetString("request_id")),
			zap.Error(err),
		)
	case oautherr.KindReauthRequired:
		log.Info(op+" requires reauthorization",
			zap.String("request_id", ctx.GetString("request_id")),
			zap.String("user_id", auth.UserIDFromContext(ctx)),
		)
	}
	utils.RespondError(ctx, err)
}

func requireUser(ctx *gin.Context) (string, bool) {
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		utils.Unauthorized(ctx, "sign in required")
		return "", false
	}
	return userID, true
}

func providerUser(p *upstream.Profile) gin.H {
	if p == nil {
		return nil
	}
	return gin.H{"id": p.ID, "email": p.Email, "name": p.Name}
}

// auditReauth records links the provider revoked on us.
func auditReauth(ctx *gin.Context, userID string, provider models.Provider, err error) {
	if oautherr.IsReauthRequired(err) {
		_ = utils.LogOAuthEvent(models.AuditActionTokenRevoke, userID, provider, ctx.ClientIP(), ctx.Request.UserAgent(), err, map[string]interface{}{"initiator": "provider"})
	}
}
