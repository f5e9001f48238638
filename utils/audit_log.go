package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"stonetify/models"
)

var auditDB *gorm.DB

func InitAuditLog(dbInstance *gorm.DB) {
	auditDB = dbInstance
}

type AuditLogEntry struct {
	EventType   models.AuditEventType   `json:"event_type"`
	EventAction models.AuditEventAction `json:"event_action"`
	UserID      string                  `json:"user_id"`
	Provider    models.Provider         `json:"provider"`
	IPAddress   string                  `json:"ip_address"`
	UserAgent   string                  `json:"user_agent"`
	Resource    string                  `json:"resource"`
	Details     map[string]interface{}  `json:"details"`
	Status      string                  `json:"status"`
	ErrorMsg    string                  `json:"error_msg"`
}

func LogAuditEvent(entry AuditLogEntry) error {
	if auditDB == nil {
		return fmt.Errorf("audit log database not initialized")
	}

	var details string
	if len(entry.Details) > 0 {
		detailsJSON, _ := json.Marshal(entry.Details)
		details = string(detailsJSON)
	}

	log := &models.AuditLog{
		EventType:   string(entry.EventType),
		EventAction: string(entry.EventAction),
		UserID:      entry.UserID,
		Provider:    string(entry.Provider),
		IPAddress:   entry.IPAddress,
		UserAgent:   entry.UserAgent,
		Resource:    entry.Resource,
		Details:     details,
		Status:      entry.Status,
		ErrorMsg:    entry.ErrorMsg,
		CreatedAt:   time.Now(),
	}

	return auditDB.Create(log).Error
}

func statusOf(err error) (string, string) {
	if err != nil {
		return "error", err.Error()
	}
	return "success", ""
}

// LogOAuthEvent records a token lifecycle event. A non-nil err marks it failed.
func LogOAuthEvent(action models.AuditEventAction, userID string, provider models.Provider, ipAddress, userAgent string, err error, details map[string]interface{}) error {
	status, msg := statusOf(err)
	return LogAuditEvent(AuditLogEntry{
		EventType:   models.AuditEventOAuth,
		EventAction: action,
		UserID:      userID,
		Provider:    provider,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Resource:    string(provider) + "_oauth",
		Details:     details,
		Status:      status,
		ErrorMsg:    msg,
	})
}

func LogAuthEvent(action models.AuditEventAction, userID string, provider models.Provider, ipAddress, userAgent string, err error) error {
	status, msg := statusOf(err)
	return LogAuditEvent(AuditLogEntry{
		EventType:   models.AuditEventAuth,
		EventAction: action,
		UserID:      userID,
		Provider:    provider,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Resource:    "authentication",
		Status:      status,
		ErrorMsg:    msg,
	})
}

// LogPlaybackEvent records a player command sent on the user's behalf.
func LogPlaybackEvent(action models.AuditEventAction, userID, ipAddress, userAgent string, err error, details map[string]interface{}) error {
	status, msg := statusOf(err)
	return LogAuditEvent(AuditLogEntry{
		EventType:   models.AuditEventPlayback,
		EventAction: action,
		UserID:      userID,
		Provider:    models.ProviderSpotify,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Resource:    "spotify_player",
		Details:     details,
		Status:      status,
		ErrorMsg:    msg,
	})
}

func LogSecurityEvent(action models.AuditEventAction, provider models.Provider, ipAddress, userAgent, resource, errorMsg string) error {
	return LogAuditEvent(AuditLogEntry{
		EventType:   models.AuditEventSecurity,
		EventAction: action,
		Provider:    provider,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Resource:    resource,
		Status:      "warning",
		ErrorMsg:    errorMsg,
	})
}

func GetAuditLogs(eventType string, limit, offset int) ([]models.AuditLog, int64, error) {
	if auditDB == nil {
		return nil, 0, fmt.Errorf("audit log database not initialized")
	}

	var logs []models.AuditLog
	var total int64

	query := auditDB.Model(&models.AuditLog{})
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&logs).Error

	return logs, total, err
}

func CleanupOldAuditLogs(daysRetained int) (int64, error) {
	if auditDB == nil {
		return 0, fmt.Errorf("audit log database not initialized")
	}

	cutoff := time.Now().AddDate(0, 0, -daysRetained)
	result := auditDB.Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}
