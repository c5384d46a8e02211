package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"

	"github.com/razorpay/razorpay-go/utils"
)

// RazorpayWebhookPayload represents the structure of Razorpay webhook payload
type RazorpayWebhookPayload struct {
	ID        string   `json:"id"`
	Event     string   `json:"event"`
	CreatedAt int64    `json:"created_at"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity razorpayRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Method           string            `json:"method"`
	Notes            map[string]string `json:"notes"`
	ErrorCode        string            `json:"error_code"`
	ErrorDescription string            `json:"error_description"`
}

type razorpayRefund struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Notes     map[string]string `json:"notes"`
}

// UnmarshalJSON tolerates Razorpay sending notes as an empty array.
func (p *razorpayPayment) UnmarshalJSON(b []byte) error {
	type plain razorpayPayment
	var aux struct {
		plain
		Notes json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = razorpayPayment(aux.plain)
	p.Notes = parseNotes(aux.Notes)
	return nil
}

func (r *razorpayRefund) UnmarshalJSON(b []byte) error {
	type plain razorpayRefund
	var aux struct {
		plain
		Notes json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = razorpayRefund(aux.plain)
	r.Notes = parseNotes(aux.Notes)
	return nil
}

func parseNotes(raw json.RawMessage) map[string]string {
	notes := map[string]string{}
	_ = json.Unmarshal(raw, &notes)
	return notes
}

const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookOrderPaid       = "order.paid"
	WebhookPaymentFailed   = "payment.failed"
	WebhookRefundProcessed = "refund.processed"
)

// WebhookResult is what the handler reports back to Razorpay.
type WebhookResult struct {
	Status    string `json:"status"`
	Event     string `json:"event"`
	Reference string `json:"reference,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// WebhookProcessor turns verified Razorpay webhooks into settlement outcomes.
type WebhookProcessor struct {
	secret  string
	reviews db.ReviewReader
	settler Settler
	log     *logger.Logger
}

func NewWebhookProcessor(secret string, reviews db.ReviewReader, settler Settler, log *logger.Logger) *WebhookProcessor {
	return &WebhookProcessor{secret: secret, reviews: reviews, settler: settler, log: log}
}

// VerifySignature checks the X-Razorpay-Signature header. Without a
// configured secret every webhook is rejected.
func (w *WebhookProcessor) VerifySignature(body []byte, signature string) bool {
	if w.secret == "" || signature == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, w.secret)
}

func (w *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !w.VerifySignature(body, signature) {
		return nil, errors.E(errors.Unauthorized, "invalid webhook signature")
	}

	var payload RazorpayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.E(errors.Invalid, "invalid payload format", err)
	}
	w.log.Info("[WEBHOOK] Received: %s (%s)", payload.Event, payload.ID)

	o, handled, err := w.outcome(ctx, payload)
	if err != nil {
		return nil, err
	}
	if !handled {
		// acknowledge everything else so Razorpay stops retrying
		return &WebhookResult{Status: "acknowledged", Event: payload.Event}, nil
	}

	res, err := w.settler.Settle(ctx, o)
	if err != nil {
		return nil, err
	}
	return &WebhookResult{Status: "processed", Event: payload.Event, Reference: o.ExternalRef, Duplicate: res.Duplicate}, nil
}

func (w *WebhookProcessor) outcome(ctx context.Context, payload RazorpayWebhookPayload) (Outcome, bool, error) {
	switch payload.Event {
	case WebhookPaymentCaptured, WebhookOrderPaid, WebhookPaymentFailed:
		if payload.Payload.Payment == nil {
			return Outcome{}, false, errors.E(errors.Invalid, "invalid payment data structure")
		}
		p := payload.Payload.Payment.Entity
		if p.ID == "" {
			return Outcome{}, false, errors.E(errors.Invalid, "missing payment id")
		}
		o := Outcome{
			EnrollmentID:  p.Notes["enrollment_id"],
			InstitutionID: p.Notes["institution_id"],
			Amount:        fromPaise(p.Amount),
			Currency:      strings.ToUpper(p.Currency),
			Method:        strings.ToUpper(p.Method),
			ExternalRef:   p.ID,
			Disposition:   DispositionSuccess,
		}
		if payload.Event == WebhookPaymentFailed {
			o.Disposition = DispositionFailure
			o.ReachedProcessing = true
			o.FailureReason = failureReason(p)
		}
		return o, true, nil

	case WebhookRefundProcessed:
		if payload.Payload.Refund == nil {
			return Outcome{}, false, errors.E(errors.Invalid, "invalid refund data structure")
		}
		r := payload.Payload.Refund.Entity
		if r.ID == "" || r.PaymentID == "" {
			return Outcome{}, false, errors.E(errors.Invalid, "missing refund or payment id")
		}
		o := Outcome{
			EnrollmentID:        r.Notes["enrollment_id"],
			InstitutionID:       r.Notes["institution_id"],
			Currency:            strings.ToUpper(r.Currency),
			ExternalRef:         r.ID,
			Disposition:         DispositionRefund,
			RefundAmount:        fromPaise(r.Amount),
			OriginalExternalRef: r.PaymentID,
		}
		if o.EnrollmentID == "" || o.InstitutionID == "" {
			review, err := w.reviews.ReviewByExternalRef(ctx, r.PaymentID)
			if err != nil {
				return Outcome{}, false, err
			}
			o.EnrollmentID = review.Payment.EnrollmentID
			o.InstitutionID = review.InstitutionID
		}
		return o, true, nil
	}
	return Outcome{}, false, nil
}

func failureReason(p razorpayPayment) string {
	switch {
	case p.ErrorCode != "" && p.ErrorDescription != "":
		return fmt.Sprintf("%s: %s", p.ErrorCode, p.ErrorDescription)
	case p.ErrorDescription != "":
		return p.ErrorDescription
	case p.ErrorCode != "":
		return p.ErrorCode
	}
	return ""
}
