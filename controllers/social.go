package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stonetify/auth"
	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/tokens"
	"stonetify/upstream"
	"stonetify/utils"
)

// SocialController manages a signed-in user's linked provider accounts. The
// same handlers serve /social/:provider and /spotify.
type SocialController struct {
	deps Dependencies
	log  *zap.Logger
}

func NewSocialController(deps Dependencies) *SocialController {
	return &SocialController{deps: deps, log: deps.logger().Named("social")}
}

type tokenRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	RedirectURI  string `json:"redirectUri"`
	CodeVerifier string `json:"codeVerifier"`
}

// Token links the provider from an authorization code the app received on
// its own redirect URI. With a state, the verifier and redirect URI stored at
// issue time are used; without one, the app supplies its own PKCE verifier.
func (c *SocialController) Token(ctx *gin.Context) {
	const op = "social.Token"
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	provider, err := providerParam(ctx)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}
	var req tokenRequest
	if !utils.BindAndValidate(ctx, &req) {
		return
	}
	if v := utils.ValidateStringNotEmpty(req.Code, "code"); v.HasErrors() {
		utils.SendValidationError(ctx, v.Error())
		return
	}

	pc, err := c.deps.Upstream.Provider(provider)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	params := tokens.ConnectParams{
		UserID:   userID,
		Provider: provider,
		Code:     req.Code,
		ClientID: pc.ClientID,
		Verify: func(reqCtx context.Context, profile *upstream.Profile) error {
			return c.deps.Users.Link(reqCtx, userID, provider, profile.ID)
		},
	}
	if req.State != "" {
		entry, err := c.deps.States.Consume(ctx.Request.Context(), auth.ConsumeStateParams{
			Provider:    provider,
			State:       req.State,
			UserID:      userID,
			Fingerprint: auth.Fingerprint(ctx.Request),
		})
		if err != nil {
			respondError(ctx, c.log, op, err)
			return
		}
		if entry == nil {
			_ = utils.LogSecurityEvent(models.AuditActionStateReject, provider, ctx.ClientIP(), ctx.Request.UserAgent(), "oauth_state", "invalid or expired state")
			respondError(ctx, c.log, op, oautherr.InvalidState(op))
			return
		}
		params.State = entry.State
		params.RedirectURI = entry.RedirectURI
		params.CodeVerifier = entry.Metadata[metaCodeVerifier]
	} else {
		redirect, err := auth.ResolveRedirectURI(auth.RedirectParams{
			Provider:              provider,
			RequestedURI:          req.RedirectURI,
			DefaultURI:            pc.DefaultRedirectURI,
			AdditionalAllowedURIs: pc.AdditionalRedirectURIs,
		})
		if err != nil {
			_ = utils.LogSecurityEvent(models.AuditActionRedirectDeny, provider, ctx.ClientIP(), ctx.Request.UserAgent(), "redirect_uri", "rejected "+req.RedirectURI)
			respondError(ctx, c.log, op, err)
			return
		}
		params.RedirectURI = redirect.RedirectURI
		params.CodeVerifier = req.CodeVerifier
	}

	conn, err := c.deps.Tokens.Connect(ctx.Request.Context(), params)
	_ = utils.LogOAuthEvent(models.AuditActionConnect, userID, provider, ctx.ClientIP(), ctx.Request.UserAgent(), err, nil)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken":  conn.AccessToken.Token,
		"expiresIn":    conn.AccessToken.ExpiresIn(time.Now()),
		"providerUser": providerUser(conn.Profile),
		"connected":    true,
	})
}

// AccessToken returns a live access token, refreshing it only when needed.
func (c *SocialController) AccessToken(ctx *gin.Context) {
	c.accessToken(ctx, "social.AccessToken", false)
}

// Refresh forces a refresh against the provider.
func (c *SocialController) Refresh(ctx *gin.Context) {
	c.accessToken(ctx, "social.Refresh", true)
}

func (c *SocialController) accessToken(ctx *gin.Context, op string, force bool) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	provider, err := providerParam(ctx)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	var tok *tokens.AccessToken
	if force {
		tok, err = c.deps.Tokens.ForceRefresh(ctx.Request.Context(), userID, provider)
		_ = utils.LogOAuthEvent(models.AuditActionTokenRefresh, userID, provider, ctx.ClientIP(), ctx.Request.UserAgent(), err, nil)
	} else {
		tok, err = c.deps.Tokens.AccessToken(ctx.Request.Context(), userID, provider)
	}
	if err != nil {
		auditReauth(ctx, userID, provider, err)
		respondError(ctx, c.log, op, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": tok.Token,
		"expiresIn":   tok.ExpiresIn(time.Now()),
	})
}

// Revoke unlinks the provider. The provider-side unlink is best-effort.
func (c *SocialController) Revoke(ctx *gin.Context) {
	const op = "social.Revoke"
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	provider, err := providerParam(ctx)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	err = c.deps.Tokens.Revoke(ctx.Request.Context(), userID, provider, true)
	_ = utils.LogOAuthEvent(models.AuditActionTokenRevoke, userID, provider, ctx.ClientIP(), ctx.Request.UserAgent(), err, map[string]interface{}{"initiator": "user"})
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"revoked": true, "provider": provider})
}

func (c *SocialController) Me(ctx *gin.Context) {
	const op = "social.Me"
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	provider, err := providerParam(ctx)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	profile, err := c.deps.Tokens.Profile(ctx.Request.Context(), userID, provider)
	if err != nil {
		auditReauth(ctx, userID, provider, err)
		respondError(ctx, c.log, op, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"provider": provider, "providerUser": providerUser(profile)})
}

func (c *SocialController) Status(ctx *gin.Context) {
	const op = "social.Status"
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	provider, err := providerParam(ctx)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	st, err := c.deps.Tokens.Status(ctx.Request.Context(), userID, provider)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}
