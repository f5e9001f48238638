package models

import (
	"time"
)

type AuditLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType   string    `gorm:"size:100;index" json:"event_type"`
	EventAction string    `gorm:"size:100;index" json:"event_action"`
	UserID      string    `gorm:"size:64;index" json:"user_id"`
	Provider    string    `gorm:"size:32;index" json:"provider"`
	IPAddress   string    `gorm:"size:45" json:"ip_address"`
	UserAgent   string    `gorm:"size:500" json:"user_agent"`
	Resource    string    `gorm:"size:255" json:"resource"`
	Details     string    `gorm:"type:text" json:"details"`
	Status      string    `gorm:"size:50" json:"status"`
	ErrorMsg    string    `gorm:"type:text" json:"error_msg"`
	CreatedAt   time.Time `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

type AuditEventType string

const (
	AuditEventOAuth    AuditEventType = "oauth"
	AuditEventAuth     AuditEventType = "auth"
	AuditEventPlayback AuditEventType = "playback"
	AuditEventSecurity AuditEventType = "security"
)

type AuditEventAction string

const (
	AuditActionLogin        AuditEventAction = "login"
	AuditActionConnect      AuditEventAction = "connect"
	AuditActionTokenRefresh AuditEventAction = "token_refresh"
	AuditActionTokenRevoke  AuditEventAction = "token_revoke"
	AuditActionTokenDelete  AuditEventAction = "token_delete"
	AuditActionStateReject  AuditEventAction = "state_reject"
	AuditActionRedirectDeny AuditEventAction = "redirect_deny"
	AuditActionCodeReject   AuditEventAction = "code_reject"
	AuditActionPlay         AuditEventAction = "play"
	AuditActionPause        AuditEventAction = "pause"
	AuditActionNext         AuditEventAction = "next"
	AuditActionPrevious     AuditEventAction = "previous"
)
