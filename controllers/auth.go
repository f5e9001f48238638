package controllers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stonetify/auth"
	"stonetify/models"
	"stonetify/oautherr"
	"stonetify/upstream"
	"stonetify/users"
	"stonetify/utils"
)

const (
	metaCodeVerifier = "code_verifier"
	metaReturnURL    = "return_url"
	metaClient       = "client"
)

type AuthController struct {
	deps Dependencies
	log  *zap.Logger
}

func NewAuthController(deps Dependencies) *AuthController {
	return &AuthController{deps: deps, log: deps.logger().Named("auth")}
}

type issueStateRequest struct {
	Provider    string `json:"provider"`
	RedirectURI string `json:"redirectUri"`
	ReturnURL   string `json:"returnUrl"`
	Client      string `json:"client"`
}

// IssueState starts an authorization-code flow. Signed-in callers get a
// state bound to their user id; anonymous callers get one bound to the
// request fingerprint.
func (c *AuthController) IssueState(ctx *gin.Context) {
	const op = "auth.IssueState"
	var req issueStateRequest
	if !utils.BindAndValidate(ctx, &req) {
		return
	}
	if v := utils.Merge(
		utils.ValidateProvider(req.Provider),
		utils.ValidateStringLength(req.Client, "client", 0, 64),
	); v.HasErrors() {
		utils.SendValidationError(ctx, v.Error())
		return
	}
	provider, _ := models.ParseProvider(req.Provider)

	userID := auth.UserIDFromContext(ctx)
	if userID == "" && !provider.IsSocialLogin() {
		utils.Unauthorized(ctx, "sign in before linking "+provider.String())
		return
	}

	pc, err := c.deps.Upstream.Provider(provider)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}
	redirect, err := auth.ResolveRedirectURI(auth.RedirectParams{
		Provider:              provider,
		RequestedURI:          req.RedirectURI,
		DefaultURI:            pc.DefaultRedirectURI,
		AdditionalAllowedURIs: pc.AdditionalRedirectURIs,
	})
	if err != nil {
		c.auditRedirectDenied(ctx, provider, req.RedirectURI)
		respondError(ctx, c.log, op, err)
		return
	}

	returnURL, err := c.resolveReturnURL(provider, req.ReturnURL)
	if err != nil {
		c.auditRedirectDenied(ctx, provider, req.ReturnURL)
		respondError(ctx, c.log, op, err)
		return
	}

	pkce, err := utils.NewPKCEPair()
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}
	metadata := map[string]string{metaCodeVerifier: pkce.CodeVerifier}
	if returnURL != "" {
		metadata[metaReturnURL] = returnURL
	}
	if req.Client != "" {
		metadata[metaClient] = req.Client
	}

	entry, err := c.deps.States.Issue(ctx.Request.Context(), auth.IssueStateParams{
		Provider:    provider,
		UserID:      userID,
		Fingerprint: auth.Fingerprint(ctx.Request),
		RedirectURI: redirect.RedirectURI,
		Metadata:    metadata,
	})
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	authorizeURL, err := c.deps.Upstream.AuthCodeURL(provider, entry.State, redirect.RedirectURI, pkce.CodeChallenge)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"state":        entry.State,
		"authorizeUrl": authorizeURL,
		"redirectUri":  redirect.RedirectURI,
		"expiresIn":    int(c.deps.States.TTL().Seconds()),
	})
}

// resolveReturnURL validates where the app wants the one-time code
// delivered. Empty means the callback answers with JSON.
func (c *AuthController) resolveReturnURL(provider models.Provider, requested string) (string, error) {
	if requested == "" {
		return "", nil
	}
	res, err := auth.ResolveRedirectURI(auth.RedirectParams{
		Provider:              provider,
		RequestedURI:          requested,
		AdditionalAllowedURIs: c.deps.AppReturnURLs,
	})
	if err != nil {
		return "", err
	}
	return res.RedirectURI, nil
}

// Callback is the provider redirect target. It consumes the state, exchanges
// the code, links the account, mints a session and hands it to the app
// through a one-time code.
func (c *AuthController) Callback(ctx *gin.Context) {
	const op = "auth.Callback"
	provider, err := providerParam(ctx)
	if err != nil {
		respondError(ctx, c.log, op, err)
		return
	}

	entry, err := c.deps.States.Consume(ctx.Request.Context(), auth.ConsumeStateParams{
		Provider:    provider,
		State:       ctx.Query("state"),
		UserID:      auth.UserIDFromContext(ctx),
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
	returnURL := entry.Metadata[metaReturnURL]

	if providerErr := ctx.Query("error"); providerErr != "" {
		c.finishWithError(ctx, returnURL, providerErr, oautherr.Validation(op, "authorization denied: %s", providerErr))
		return
	}
	code := ctx.Query("code")
	if code == "" {
		c.finishWithError(ctx, returnURL, "invalid_request", oautherr.Validation(op, "code is required"))
		return
	}

	userID, err := c.completeLink(ctx.Request.Context(), entry, code)
	if err != nil {
		_ = utils.LogOAuthEvent(models.AuditActionConnect, entry.UserID, provider, ctx.ClientIP(), ctx.Request.UserAgent(), err, nil)
		c.finishWithError(ctx, returnURL, oautherr.KindOf(err).String(), err)
		return
	}

	session, _, err := c.deps.Sessions.Issue(userID, provider)
	if err != nil {
		c.finishWithError(ctx, returnURL, "server_error", err)
		return
	}
	oneTime, err := c.deps.Codes.Issue(ctx.Request.Context(), session, provider)
	if err != nil {
		c.finishWithError(ctx, returnURL, "server_error", err)
		return
	}
	_ = utils.LogAuthEvent(models.AuditActionLogin, userID, provider, ctx.ClientIP(), ctx.Request.UserAgent(), nil)

	if returnURL == "" {
		ctx.JSON(http.StatusOK, gin.H{"code": oneTime, "provider": provider})
		return
	}
	ctx.Redirect(http.StatusFound, withQuery(returnURL, url.Values{
		"code":     {oneTime},
		"provider": {provider.String()},
	}))
}

// completeLink exchanges code and stores the tokens. A user-bound state links
// to that user; an anonymous state signs in through the provider account.
func (c *AuthController) completeLink(ctx context.Context, entry *auth.StateEntry, code string) (string, error) {
	const op = "auth.completeLink"
	pc, err := c.deps.Upstream.Provider(entry.Provider)
	if err != nil {
		return "", err
	}
	ex, err := c.deps.Tokens.Exchange(ctx, upstream.ExchangeParams{
		Provider:     entry.Provider,
		Code:         code,
		CodeVerifier: entry.Metadata[metaCodeVerifier],
		RedirectURI:  entry.RedirectURI,
		State:        entry.State,
	})
	if err != nil {
		return "", err
	}

	userID := entry.UserID
	if userID != "" {
		if err := c.deps.Users.Link(ctx, userID, entry.Provider, ex.Profile.ID); err != nil {
			return "", err
		}
	} else {
		if !entry.Provider.IsSocialLogin() {
			return "", oautherr.Validation(op, "%s cannot be used to sign in", entry.Provider)
		}
		user, _, err := c.deps.Users.FindOrCreateBySocial(ctx, users.SocialIdentity{
			Provider:       entry.Provider,
			ProviderUserID: ex.Profile.ID,
			Email:          ex.Profile.Email,
			Name:           ex.Profile.Name,
		})
		if err != nil {
			return "", err
		}
		userID = user.ID
	}

	if _, err := c.deps.Tokens.Store(ctx, userID, entry.Provider, ex, pc.ClientID); err != nil {
		return "", err
	}
	return userID, nil
}

func (c *AuthController) finishWithError(ctx *gin.Context, returnURL, code string, err error) {
	if returnURL == "" {
		respondError(ctx, c.log, "auth.Callback", err)
		return
	}
	if k := oautherr.KindOf(err); k == oautherr.KindDependency || k == oautherr.KindUnknown {
		c.log.Error("oauth callback failed", zap.String("request_id", ctx.GetString("request_id")), zap.Error(err))
	}
	ctx.Redirect(http.StatusFound, withQuery(returnURL, url.Values{"error": {code}}))
}

type completeRequest struct {
	Code string `json:"code"`
}

// Complete trades a one-time code for the session token it carries.
func (c *AuthController) Complete(ctx *gin.Context) {
	var req completeRequest
	if !utils.BindAndValidate(ctx, &req) {
		return
	}
	if v := utils.ValidateStringNotEmpty(req.Code, "code"); v.HasErrors() {
		utils.SendValidationError(ctx, v.Error())
		return
	}

	payload, err := c.deps.Codes.Consume(ctx.Request.Context(), req.Code)
	if err != nil {
		respondError(ctx, c.log, "auth.Complete", err)
		return
	}
	if payload == nil {
		_ = utils.LogSecurityEvent(models.AuditActionCodeReject, "", ctx.ClientIP(), ctx.Request.UserAgent(), "one_time_code", "invalid or expired code")
		utils.BadRequest(ctx, "invalid or expired code")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token":     payload.Token,
		"tokenType": "Bearer",
		"provider":  payload.Provider,
	})
}

func (c *AuthController) auditRedirectDenied(ctx *gin.Context, provider models.Provider, uri string) {
	_ = utils.LogSecurityEvent(models.AuditActionRedirectDeny, provider, ctx.ClientIP(), ctx.Request.UserAgent(), "redirect_uri", "rejected "+uri)
}

// withQuery adds values to an already validated URL, keeping any fragment.
func withQuery(raw string, values url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range values {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}
