package delivery

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// VerifyTwilioSignature implements spec.md §6's exact algorithm: HMAC-SHA1
// of the request URL concatenated with the sorted body params (key+value,
// no separator), base64-encoded, compared to the X-Twilio-Signature header.
func VerifyTwilioSignature(authToken, url string, params map[string]string, signature string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(url)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// twilioStatus maps Twilio's MessageStatus vocabulary (spec.md §6) onto the
// shared DeliveryStatus enum.
var twilioStatus = map[string]domain.DeliveryStatus{
	"queued":      domain.StatusQueued,
	"sending":     domain.StatusQueued,
	"sent":        domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"undelivered": domain.StatusUndelivered,
	"failed":      domain.StatusFailed,
}

// ParseTwilioWebhook translates a Twilio SMS status-callback's form-encoded
// fields into a WebhookEvent.
func ParseTwilioWebhook(fields map[string]string, eventTimestamp time.Time) (WebhookEvent, bool) {
	status, ok := twilioStatus[fields["MessageStatus"]]
	if !ok {
		return WebhookEvent{}, false
	}
	return WebhookEvent{
		ProviderMessageID: fields["MessageSid"],
		Status:            status,
		EventType:         fields["MessageStatus"],
		EventTimestamp:    eventTimestamp,
		ErrorCode:         fields["ErrorCode"],
		ErrorMessage:      fields["ErrorMessage"],
	}, true
}

// SendGridEvent is one entry in a SendGrid event-webhook JSON array
// (spec.md §6).
type SendGridEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
	Type        string `json:"type"`
	URL         string `json:"url"`
}

// sendgridStatus maps SendGrid's event vocabulary onto DeliveryStatus.
// "processed"/"dropped" have no direct equivalent in the shared skeleton
// (processed precedes "sent" bookkeeping the gateway's synchronous Send
// already recorded; dropped is treated as permanent failure).
var sendgridStatus = map[string]domain.DeliveryStatus{
	"delivered":   domain.StatusDelivered,
	"bounce":      domain.StatusBounced,
	"dropped":     domain.StatusFailed,
	"deferred":    domain.StatusFailed,
	"open":        domain.StatusOpened,
	"click":       domain.StatusClicked,
	"spamreport":  domain.StatusSpam,
	"unsubscribe": domain.StatusUnsubscribed,
}

// ParseSendGridEvent translates one SendGrid event into a WebhookEvent.
// "processed" events are skipped (return ok=false): they carry no new
// forward-progression information over a successful synchronous send.
func ParseSendGridEvent(ev SendGridEvent) (WebhookEvent, bool) {
	status, ok := sendgridStatus[ev.Event]
	if !ok {
		return WebhookEvent{}, false
	}
	errCode := ev.Type
	if errCode == "" && ev.Event == "deferred" {
		errCode = "deferred"
	}
	if errCode == "" && ev.Event == "bounce" {
		errCode = "bounce_soft"
		if ev.Type == "blocked" || ev.Type == "bounce" {
			errCode = ev.Type
		}
	}
	return WebhookEvent{
		ProviderMessageID: ev.SGMessageID,
		Status:            status,
		EventType:         ev.Event,
		EventTimestamp:    time.Unix(ev.Timestamp, 0).UTC(),
		ErrorCode:         errCode,
		ErrorMessage:      ev.Reason,
	}, true
}

// sipgateProviderMessageID builds the "sipgate_" + nonce id format spec.md
// §6 specifies for sipgate's synchronous send response; sipgate has no
// status callbacks, so no webhook parser exists for it.
func sipgateProviderMessageID(nonce string) string {
	return "sipgate_" + nonce
}
