package utils

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"stonetify/models"
)

type ValidationErr struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid  bool
	Errors []ValidationErr
}

func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors = append(v.Errors, ValidationErr{
		Field:   field,
		Message: message,
	})
}

func (v *ValidationResult) HasErrors() bool {
	return !v.Valid
}

func (v *ValidationResult) Error() string {
	if !v.Valid {
		messages := make([]string, len(v.Errors))
		for i, e := range v.Errors {
			messages[i] = e.Message
		}
		return strings.Join(messages, "; ")
	}
	return ""
}

func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// Merge folds the errors of results into one result.
func Merge(results ...*ValidationResult) *ValidationResult {
	merged := NewValidationResult()
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, e := range r.Errors {
			merged.AddError(e.Field, e.Message)
		}
	}
	return merged
}

func ValidateStringNotEmpty(value, fieldName string) *ValidationResult {
	result := NewValidationResult()
	if strings.TrimSpace(value) == "" {
		result.AddError(fieldName, fieldName+" is required")
	}
	return result
}

func ValidateStringLength(value, fieldName string, min, max int) *ValidationResult {
	result := NewValidationResult()
	length := len(strings.TrimSpace(value))
	if length < min {
		result.AddError(fieldName, fieldName+" must be at least "+strconv.Itoa(min)+" characters")
	}
	if max > 0 && length > max {
		result.AddError(fieldName, fieldName+" must be at most "+strconv.Itoa(max)+" characters")
	}
	return result
}

func ValidateEnum(value, fieldName string, allowedValues []string) *ValidationResult {
	result := NewValidationResult()
	if value == "" {
		return result
	}

	for _, allowed := range allowedValues {
		if value == allowed {
			return result
		}
	}

	result.AddError(fieldName, fieldName+" must be one of: "+strings.Join(allowedValues, ", "))
	return result
}

func ValidateProvider(value string, allowed ...models.Provider) *ValidationResult {
	if len(allowed) == 0 {
		allowed = models.Providers
	}
	names := make([]string, len(allowed))
	for i, p := range allowed {
		names[i] = p.String()
	}
	result := ValidateStringNotEmpty(value, "provider")
	if result.HasErrors() {
		return result
	}
	return ValidateEnum(value, "provider", names)
}

var (
	spotifyIDRegex      = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)
	spotifyContextRegex = regexp.MustCompile(`^spotify:(album|playlist|artist|show):[0-9A-Za-z]{22}$`)
)

const maxDeviceIDLength = 64

// NormalizeSpotifyTrackURI accepts a bare base62 track id or a
// spotify:track: URI and returns the URI form.
func NormalizeSpotifyTrackURI(value string) (string, bool) {
	value = strings.TrimSpace(value)
	id := strings.TrimPrefix(value, "spotify:track:")
	if !spotifyIDRegex.MatchString(id) {
		return "", false
	}
	return "spotify:track:" + id, true
}

func ValidateSpotifyTrackURIs(values []string) *ValidationResult {
	result := NewValidationResult()
	for _, v := range values {
		if _, ok := NormalizeSpotifyTrackURI(v); !ok {
			result.AddError("uris", "invalid Spotify track id: "+v)
		}
	}
	return result
}

func ValidateSpotifyContextURI(value string) *ValidationResult {
	result := NewValidationResult()
	if value != "" && !spotifyContextRegex.MatchString(value) {
		result.AddError("context_uri", "context_uri must be a Spotify album, playlist, artist or show URI")
	}
	return result
}

// ValidateDeviceID checks an optional device id. Empty means "any device".
func ValidateDeviceID(value string) *ValidationResult {
	result := NewValidationResult()
	if value == "" {
		return result
	}
	if strings.TrimSpace(value) != value || len(value) > maxDeviceIDLength || strings.ContainsAny(value, " /?#&") {
		result.AddError("device_id", "device_id is malformed")
	}
	return result
}

func BindAndValidate(ctx *gin.Context, dest interface{}, validators ...*ValidationResult) bool {
	if err := ctx.ShouldBindJSON(dest); err != nil {
		SendValidationError(ctx, err.Error())
		return false
	}

	for _, v := range validators {
		if v.HasErrors() {
			SendValidationError(ctx, v.Error())
			return false
		}
	}

	return true
}

func SendValidationError(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, gin.H{
		"error":   "Validation error",
		"code":    http.StatusBadRequest,
		"details": message,
	})
}
