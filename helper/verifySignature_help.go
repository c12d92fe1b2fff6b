package helper

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/qingyh6/ai/log"
)

// VerifyGithubSignature checks the X-Hub-Signature-256 header value
// (HMAC-SHA256 of the raw request body) against the repo's secret.
func VerifyGithubSignature(secret string, body []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		log.Error("X-Hub-Signature-256 header is missing")
		return false
	}
	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		log.Errorf("Signature uses unsupported algorithm: %s", parts[0])
		return false
	}
	if secret == "" {
		log.Error("No webhook secret configured for this repository")
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		log.Error("Invalid X-Hub-Signature-256")
		return false
	}
	return true
}

// VerifyGitlabToken checks the X-Gitlab-Token header against the
// project's secret.
func VerifyGitlabToken(secret, token string) bool {
	if token == "" {
		log.Error("X-Gitlab-Token header is missing")
		return false
	}
	if secret == "" {
		log.Error("No webhook secret configured for this project")
		return false
	}
	if !hmac.Equal([]byte(secret), []byte(token)) {
		log.Error("Invalid X-Gitlab-Token")
		return false
	}
	return true
}

// VerifyAdminKey compares the provided admin API key in constant time.
func VerifyAdminKey(configured, provided string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(configured), []byte(provided))
}
