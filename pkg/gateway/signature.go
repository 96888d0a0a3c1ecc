package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignCallback computes the hex HMAC-SHA256 the gateway attaches to a
// successful checkout-widget callback: keyed over
// "<gatewayOrderID>|<gatewayPaymentID>" with the merchant key secret.
func SignCallback(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackSignature checks a callback signature in constant time.
func VerifyCallbackSignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	expected := SignCallback(secret, gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignWebhookBody computes the hex HMAC-SHA256 over a raw webhook body with
// the webhook secret.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a webhook signature against the raw,
// unparsed request body in constant time. The body must be the exact bytes
// received on the wire; re-serialized JSON is not guaranteed to byte-match.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	expected := SignWebhookBody(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
