package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
	"marketplace-settlement/models"

	"github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
)

// RefundGateway issues refunds at the payment processor and returns the
// processor's refund id.
type RefundGateway interface {
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal, notes map[string]string) (string, error)
}

type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway(keyID, keySecret string) (*RazorpayGateway, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("razorpay credentials not configured")
	}
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}, nil
}

// toPaise converts rupees to the integer minor units Razorpay expects.
func toPaise(amount decimal.Decimal) int {
	return int(amount.Shift(2).Round(0).IntPart())
}

func fromPaise(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

func (g *RazorpayGateway) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal, notes map[string]string) (string, error) {
	data := map[string]interface{}{"speed": "normal"}
	if len(notes) > 0 {
		n := make(map[string]interface{}, len(notes))
		for k, v := range notes {
			n[k] = v
		}
		data["notes"] = n
	}

	type reply struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan reply, 1)
	// the client has no context support, so the call is bounded from outside
	go func() {
		body, err := g.client.Payment.Refund(paymentRef, toPaise(amount), data, nil)
		done <- reply{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		id, _ := r.body["id"].(string)
		if id == "" {
			return "", fmt.Errorf("razorpay refund response has no id")
		}
		return id, nil
	}
}

// RefundService refunds a settled payment at the processor and then records
// the refund through the settlement executor.
type RefundService struct {
	gateway RefundGateway
	reviews db.ReviewReader
	settler Settler
	timeout time.Duration
	log     *logger.Logger
}

func NewRefundService(gateway RefundGateway, reviews db.ReviewReader, settler Settler, timeout time.Duration, log *logger.Logger) *RefundService {
	return &RefundService{gateway: gateway, reviews: reviews, settler: settler, timeout: timeout, log: log}
}

type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=500"`
}

// Refund refunds amount (the full payment when zero) of paymentID.
func (s *RefundService) Refund(ctx context.Context, actor Actor, paymentID string, req RefundRequest) (*SettlementResult, error) {
	if s.gateway == nil {
		return nil, errors.E(errors.DependencyUnavailable, "payment processor is not configured")
	}
	review, err := s.reviews.PaymentForReview(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	p := review.Payment
	if !CanTransition(p.Status, models.PaymentRefunded) {
		return nil, errors.E(errors.InvalidTransition,
			fmt.Sprintf("payment %s is %s and cannot be refunded", p.ID, p.Status))
	}
	if p.ExternalRef == "" {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("payment %s was not made through the processor", p.ID))
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = p.Amount
	}
	if amount.IsNegative() || amount.GreaterThan(p.Amount) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("refund amount must be between 0 and %s", p.Amount.StringFixed(2)))
	}

	gctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	refundID, err := s.gateway.Refund(gctx, p.ExternalRef, amount, map[string]string{
		"enrollment_id":  p.EnrollmentID,
		"institution_id": review.InstitutionID,
		"reason":         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return nil, errors.E(errors.DependencyUnavailable, "refunding payment "+p.ID, err)
	}
	s.log.Info("Refund %s issued for payment %s by %s", refundID, p.ID, actor.ID)

	return s.settler.Settle(ctx, Outcome{
		EnrollmentID:        p.EnrollmentID,
		InstitutionID:       review.InstitutionID,
		Currency:            p.Currency,
		ExternalRef:         refundID,
		Disposition:         DispositionRefund,
		RefundAmount:        amount,
		OriginalExternalRef: p.ExternalRef,
		Actor:               actor.ID,
	})
}
