package storefront

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 signature of a push webhook body.
const SignatureHeader = "X-Storefront-Signature"

// PushFunc handles a verified push body.
type PushFunc func(ctx context.Context, body []byte) (*Notification, error)

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyPushSignature verifies a push webhook signature using HMAC-SHA256.
// Uses constant-time comparison to prevent timing attacks.
func VerifyPushSignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// SignPushBody returns the signature header value for body.
func SignPushBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ============================================================================
// PushWebhook
// ============================================================================

// PushWebhook receives push signals over HTTP. Only the signature is
// checked here; the body itself is parsed leniently by the push handler.
type PushWebhook struct {
	secret string
	onPush PushFunc
}

// NewPushWebhook creates a webhook receiver.
func NewPushWebhook(secret string, onPush PushFunc) (*PushWebhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("push webhook secret is required")
	}
	if onPush == nil {
		return nil, fmt.Errorf("push handler is required")
	}
	return &PushWebhook{secret: secret, onPush: onPush}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *PushWebhook) Verify(body []byte, signature string) bool {
	return VerifyPushSignature(body, signature, w.secret)
}

// Handle verifies the body and passes it on. Returns the status code and
// response body for the caller to write.
func (w *PushWebhook) Handle(ctx context.Context, body []byte, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	n, err := w.onPush(ctx, body)
	if err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	if n != nil {
		return http.StatusOK, n
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes push webhook requests.
//
// Example:
//
//	wh, _ := storefront.NewPushWebhook("secret", worker.Push)
//	http.Handle("/__worker/push", wh.HTTPHandler())
func (w *PushWebhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(r.Context(), body, r.Header.Get(SignatureHeader))
		writeJSON(rw, statusCode, data)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
