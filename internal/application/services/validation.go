package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/longregen/mcphub/internal/domain"
)

const (
	serverIDPrefix       = "amcp_"
	maxDescriptionLength = 1024
	maxToolNameLength    = 128
	// maxCredentialsBytes bounds the JSON form of a credential map
	maxCredentialsBytes = 16 * 1024
)

// ValidateID checks that an ID is not empty
func ValidateID(id string, entityType string) error {
	if id == "" {
		return domain.NewDomainError(domain.ErrInvalidID, entityType+" ID cannot be empty")
	}
	return nil
}

// ValidateRequired checks that a required string field is not empty
func ValidateRequired(value string, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, fieldName+" is required")
	}
	return nil
}

// ValidateStringLength checks that a string's length is within the specified range
func ValidateStringLength(value string, fieldName string, minLen, maxLen int) error {
	length := len(value)
	if minLen > 0 && length < minLen {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at least %d characters (got %d)", fieldName, minLen, length))
	}
	if maxLen > 0 && length > maxLen {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s must be at most %d characters (got %d)", fieldName, maxLen, length))
	}
	return nil
}

// ValidateJSONSize checks that a JSON-serializable object is within the size limit (in bytes)
func ValidateJSONSize(value interface{}, fieldName string, maxSizeBytes int) error {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s contains invalid JSON: %v", fieldName, err))
	}

	size := len(jsonBytes)
	if size > maxSizeBytes {
		return domain.NewDomainError(domain.ErrInvalidInput,
			fmt.Sprintf("%s size exceeds limit: %d bytes (limit: %d bytes)", fieldName, size, maxSizeBytes))
	}
	return nil
}

// ValidateServerIDFormat checks that a server ID follows the expected format (amcp_...)
func ValidateServerIDFormat(serverID string) error {
	if err := ValidateID(serverID, "server"); err != nil {
		return err
	}
	if !strings.HasPrefix(serverID, serverIDPrefix) {
		return domain.NewDomainError(domain.ErrInvalidID,
			fmt.Sprintf("server ID must start with '%s' (got: %s)", serverIDPrefix, serverID))
	}
	if len(serverID) == len(serverIDPrefix) {
		return domain.NewDomainError(domain.ErrInvalidID,
			fmt.Sprintf("server ID is too short (got: %s)", serverID))
	}
	return nil
}

// ValidateCredentials rejects empty keys and oversized credential maps
func ValidateCredentials(creds map[string]string) error {
	for k := range creds {
		if strings.TrimSpace(k) == "" {
			return domain.NewDomainError(domain.ErrInvalidInput, "credential names cannot be empty")
		}
	}
	return ValidateJSONSize(creds, "credentials", maxCredentialsBytes)
}
