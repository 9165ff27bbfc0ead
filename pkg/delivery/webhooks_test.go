package delivery

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

func TestVerifyTwilioSignature(t *testing.T) {
	authToken := "12345"
	url := "https://example.de/webhooks/sms/twilio"
	params := map[string]string{
		"MessageSid":    "SM123",
		"MessageStatus": "delivered",
		"To":            "+4915112345678",
		"From":          "+4930123456",
	}

	// Build the expected signature the way Twilio documents it: URL plus
	// key+value pairs in sorted key order.
	base := url + "From" + "+4930123456" + "MessageSid" + "SM123" + "MessageStatus" + "delivered" + "To" + "+4915112345678"
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(base))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyTwilioSignature(authToken, url, params, sig))
	assert.False(t, VerifyTwilioSignature(authToken, url, params, "forged"))
	assert.False(t, VerifyTwilioSignature("wrong-token", url, params, sig))
}

func TestParseTwilioWebhook(t *testing.T) {
	at := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	ev, ok := ParseTwilioWebhook(map[string]string{
		"MessageSid":    "SM123",
		"MessageStatus": "undelivered",
		"ErrorCode":     "30003",
		"ErrorMessage":  "Unreachable destination handset",
	}, at)
	require.True(t, ok)
	assert.Equal(t, "SM123", ev.ProviderMessageID)
	assert.Equal(t, domain.StatusUndelivered, ev.Status)
	assert.Equal(t, "undelivered", ev.EventType)
	assert.Equal(t, "30003", ev.ErrorCode)
}

func TestParseTwilioWebhookUnknownStatus(t *testing.T) {
	_, ok := ParseTwilioWebhook(map[string]string{"MessageStatus": "teleported"}, time.Now())
	assert.False(t, ok)
}

func TestParseSendGridEvent(t *testing.T) {
	ev, ok := ParseSendGridEvent(SendGridEvent{
		Event:       "bounce",
		SGMessageID: "sg-1",
		Email:       "max@example.de",
		Timestamp:   1784800000,
		Reason:      "mailbox full",
	})
	require.True(t, ok)
	assert.Equal(t, domain.StatusBounced, ev.Status)
	assert.Equal(t, "bounce_soft", ev.ErrorCode)
	assert.Equal(t, "mailbox full", ev.ErrorMessage)
}

func TestParseSendGridEventProcessedSkipped(t *testing.T) {
	_, ok := ParseSendGridEvent(SendGridEvent{Event: "processed", SGMessageID: "sg-2"})
	assert.False(t, ok)
}

func TestParseSendGridEventOpenClick(t *testing.T) {
	open, ok := ParseSendGridEvent(SendGridEvent{Event: "open", SGMessageID: "sg-3", Timestamp: 1784800000})
	require.True(t, ok)
	assert.Equal(t, domain.StatusOpened, open.Status)

	click, ok := ParseSendGridEvent(SendGridEvent{Event: "click", SGMessageID: "sg-3", URL: "https://example.de", Timestamp: 1784800100})
	require.True(t, ok)
	assert.Equal(t, domain.StatusClicked, click.Status)
}

func TestSipgateProviderMessageID(t *testing.T) {
	assert.Equal(t, "sipgate_abc123", sipgateProviderMessageID("abc123"))
}
