package db

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/costspent/llm-gateway/internal/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenPrefix is required on every proxy credential so upstream provider keys
// pasted by mistake are rejected before any lookup.
const TokenPrefix = "pk-"

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialInactive = errors.New("credential is revoked")
)

// GenerateToken creates a new proxy credential token: pk-<32 hex chars>.
func GenerateToken() (string, error) {
	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(keyBytes), nil
}

// HashToken returns the SHA-256 hex digest used to store and look up tokens.
// Hash-based lookup also keeps the compare time independent of how much of
// the token matches.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ResolveCredential maps a raw bearer token to its Credential record.
// Revocation takes effect here: an inactive row resolves to ErrCredentialInactive
// on the next request, never retroactively on in-flight ones.
func ResolveCredential(db *gorm.DB, raw string) (*models.Credential, error) {
	if !strings.HasPrefix(raw, TokenPrefix) {
		return nil, ErrCredentialNotFound
	}

	var cred models.Credential
	err := db.Where("token_hash = ?", HashToken(raw)).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	if !cred.IsActive {
		return nil, ErrCredentialInactive
	}
	return &cred, nil
}

// CreateCredential persists a new credential and returns it together with the
// raw token. The raw token is shown once and never stored.
func CreateCredential(db *gorm.DB, cred *models.Credential) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	cred.TokenHash = HashToken(token)
	if err := db.Create(cred).Error; err != nil {
		return "", err
	}
	return token, nil
}

// RevokeCredential flips a credential inactive by ID.
func RevokeCredential(db *gorm.DB, id string) error {
	res := db.Model(&models.Credential{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// ListCredentials returns all credentials, newest first.
func ListCredentials(db *gorm.DB) ([]models.Credential, error) {
	var creds []models.Credential
	if err := db.Order("created_at DESC").Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}
