package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stonetify/models"
	"stonetify/spotify"
	"stonetify/utils"
)

type PlaybackController struct {
	deps Dependencies
	log  *zap.Logger
}

func NewPlaybackController(deps Dependencies) *PlaybackController {
	return &PlaybackController{deps: deps, log: deps.logger().Named("playback")}
}

type playRequest struct {
	DeviceID   string   `json:"deviceId"`
	URIs       []string `json:"uris"`
	ContextURI string   `json:"contextUri"`
	PositionMS int      `json:"positionMs"`
}

func (c *PlaybackController) fail(ctx *gin.Context, op, userID string, err error) {
	auditReauth(ctx, userID, models.ProviderSpotify, err)
	respondError(ctx, c.log, op, err)
}

func (c *PlaybackController) GetDevices(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	devices, err := c.deps.Player.Devices(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, "playback.Devices", userID, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (c *PlaybackController) Play(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req playRequest
	if !utils.BindAndValidate(ctx, &req) {
		return
	}

	res, err := c.deps.Player.Play(ctx.Request.Context(), userID, spotify.PlayRequest{
		DeviceID:   req.DeviceID,
		URIs:       req.URIs,
		ContextURI: req.ContextURI,
		PositionMS: req.PositionMS,
	})
	details := map[string]interface{}{"tracks": len(req.URIs), "context": req.ContextURI != ""}
	if res != nil {
		details["device_id"] = res.DeviceID
		details["fell_back"] = res.FellBack
	}
	_ = utils.LogPlaybackEvent(models.AuditActionPlay, userID, ctx.ClientIP(), ctx.Request.UserAgent(), err, details)
	if err != nil {
		c.fail(ctx, "playback.Play", userID, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (c *PlaybackController) Pause(ctx *gin.Context) {
	c.command(ctx, "playback.Pause", models.AuditActionPause, c.deps.Player.Pause)
}

func (c *PlaybackController) Next(ctx *gin.Context) {
	c.command(ctx, "playback.Next", models.AuditActionNext, c.deps.Player.Next)
}

func (c *PlaybackController) Previous(ctx *gin.Context) {
	c.command(ctx, "playback.Previous", models.AuditActionPrevious, c.deps.Player.Previous)
}

type deviceCommand func(ctx context.Context, userID, deviceID string) error

func (c *PlaybackController) command(ctx *gin.Context, op string, action models.AuditEventAction, run deviceCommand) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	deviceID := ctx.Query("deviceId")
	err := run(ctx.Request.Context(), userID, deviceID)
	_ = utils.LogPlaybackEvent(action, userID, ctx.ClientIP(), ctx.Request.UserAgent(), err, map[string]interface{}{"device_id": deviceID})
	if err != nil {
		c.fail(ctx, op, userID, err)
		return
	}
	utils.NoContent(ctx)
}

func (c *PlaybackController) GetCurrent(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	current, err := c.deps.Player.CurrentlyPlaying(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, "playback.Current", userID, err)
		return
	}
	if current == nil {
		ctx.JSON(http.StatusOK, gin.H{"is_playing": false, "item": nil})
		return
	}
	ctx.JSON(http.StatusOK, current)
}
