package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"techentry-bot/pkg/logger"
)

const SignatureHeader = "X-Twilio-Signature"

var ErrInvalidSignature = errors.New("messaging: invalid webhook signature")

// ComputeSignature implements Twilio's request signing: HMAC-SHA1 over the
// full URL followed by every POST parameter (name then value, sorted by name),
// base64 encoded.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a provided signature in constant time.
// An empty auth token never validates.
func ValidateSignature(authToken, fullURL string, params url.Values, provided string) error {
	if authToken == "" || provided == "" {
		return ErrInvalidSignature
	}
	expected := ComputeSignature(authToken, fullURL, params)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}

// RequestURL rebuilds the URL the provider called. publicBase, when set,
// replaces scheme and host (the service usually sits behind a proxy).
func RequestURL(r *http.Request, publicBase string) string {
	if publicBase = strings.TrimRight(strings.TrimSpace(publicBase), "/"); publicBase != "" {
		return publicBase + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// RequireSignature rejects webhook calls whose signature does not match.
// Rejected requests never reach the workflow.
func RequireSignature(authToken, publicBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)
		if err := c.Request.ParseForm(); err != nil {
			log.Warn("webhook form parse failed", "err", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		fullURL := RequestURL(c.Request, publicBase)
		if err := ValidateSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)); err != nil {
			log.Warn("webhook signature rejected", "url", fullURL)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
