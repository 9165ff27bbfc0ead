package emailintake

import (
	"fmt"
	"strings"

	"github.com/handwerkcall/phoneagent/pkg/domain"
)

// IsAutoSubmitted reports whether an inbound message is itself machine
// generated and must never receive an auto-reply, closing the loop gap
// documented in spec.md §9 (Open Question 3). Detection follows RFC 3834's
// Auto-Submitted header plus the Precedence and X-Autoreply conventions
// older mailers use.
func IsAutoSubmitted(headers map[string]string) bool {
	for name, value := range headers {
		v := strings.ToLower(strings.TrimSpace(value))
		switch strings.ToLower(name) {
		case "auto-submitted":
			if v != "" && v != "no" {
				return true
			}
		case "precedence":
			if v == "auto_reply" || v == "auto-reply" || v == "bulk" || v == "list" {
				return true
			}
		case "x-autoreply", "x-autorespond":
			return true
		}
	}
	return false
}

// autoReplyBodies are the per-urgency acknowledgement templates, grounded
// on original_source's email_webhooks.py auto-reply texts.
var autoReplyBodies = map[domain.Urgency]string{
	domain.UrgencyNotfall: "vielen Dank für Ihre Nachricht. Ihr Anliegen wurde als Notfall eingestuft " +
		"und sofort an unser Team weitergeleitet. Wir melden uns umgehend bei Ihnen. " +
		"Bei akuter Gefahr rufen Sie bitte direkt an.",
	domain.UrgencyDringend: "vielen Dank für Ihre Nachricht. Ihr Anliegen wurde als dringend eingestuft. " +
		"Wir melden uns noch heute bei Ihnen.",
	domain.UrgencyNormal: "vielen Dank für Ihre Nachricht. Wir haben Ihr Anliegen erhalten und " +
		"melden uns innerhalb von 1-2 Werktagen bei Ihnen.",
	domain.UrgencyRoutine: "vielen Dank für Ihre Nachricht. Wir haben Ihr Anliegen erhalten und " +
		"bearbeiten es zeitnah.",
}

// renderAutoReply builds the acknowledgement subject and body for one
// classified message.
func renderAutoReply(urgency domain.Urgency, ticket, originalSubject string) (subject, body string) {
	subject = fmt.Sprintf("Re: %s [%s]", originalSubject, ticket)
	text, ok := autoReplyBodies[urgency]
	if !ok {
		text = autoReplyBodies[domain.UrgencyNormal]
	}
	body = fmt.Sprintf("Guten Tag,\n\n%s\n\nIhre Vorgangsnummer: %s\n\nMit freundlichen Grüßen\nIhr Service-Team", text, ticket)
	return subject, body
}
