package services

import (
	"context"
	"fmt"
	"strings"

	"marketplace-settlement/config"
	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
	"marketplace-settlement/metrics"
	"marketplace-settlement/models"
)

type Authority string

const (
	AuthorityAdminOnly          Authority = "ADMIN_ONLY"
	AuthorityInstitutionOrAdmin Authority = "INSTITUTION_OR_ADMIN"
)

const (
	ReasonGloballyDisabled    = "globally disabled"
	ReasonInstitutionExempted = "institution exempted"
	ReasonMethodNeedsAdmin    = "method requires admin approval"
)

// Decision says who may approve a pending payment. Reason is empty when
// institutions may approve.
type Decision struct {
	Authority Authority `json:"authority"`
	Reason    string    `json:"reason,omitempty"`
}

// ApprovalPolicy is the lookup form of config.ApprovalPolicy.
type ApprovalPolicy struct {
	AllowInstitutionApproval bool
	approvableMethods        map[string]struct{}
	exemptions               map[string]struct{}
}

func NewApprovalPolicy(allow bool, methods, exemptions []string) ApprovalPolicy {
	p := ApprovalPolicy{
		AllowInstitutionApproval: allow,
		approvableMethods:        make(map[string]struct{}, len(methods)),
		exemptions:               make(map[string]struct{}, len(exemptions)),
	}
	for _, m := range methods {
		p.approvableMethods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}
	for _, id := range exemptions {
		p.exemptions[strings.TrimSpace(id)] = struct{}{}
	}
	return p
}

func PolicyFromConfig(c config.ApprovalPolicy) ApprovalPolicy {
	return NewApprovalPolicy(c.AllowInstitutionApproval, c.InstitutionApprovableMethods, c.InstitutionExemptions)
}

type ApprovalSubject struct {
	InstitutionID string
	Method        string
}

// ResolveAuthority evaluates the policy in order: global flag, exemption list,
// then the approvable method set.
func ResolveAuthority(s ApprovalSubject, p ApprovalPolicy) Decision {
	if !p.AllowInstitutionApproval {
		return Decision{Authority: AuthorityAdminOnly, Reason: ReasonGloballyDisabled}
	}
	if _, ok := p.exemptions[s.InstitutionID]; ok {
		return Decision{Authority: AuthorityAdminOnly, Reason: ReasonInstitutionExempted}
	}
	if s.Method != "" {
		if _, ok := p.approvableMethods[strings.ToUpper(s.Method)]; !ok {
			return Decision{Authority: AuthorityAdminOnly, Reason: ReasonMethodNeedsAdmin}
		}
	}
	return Decision{Authority: AuthorityInstitutionOrAdmin}
}

const (
	RoleAdmin       = "ADMIN"
	RoleInstitution = "INSTITUTION"
)

// Actor is the authenticated caller of an approval action.
type Actor struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	InstitutionID string `json:"institution_id,omitempty"`
}

// ApprovalService gates manual approve/disapprove actions and forwards them
// to the settlement executor.
type ApprovalService struct {
	reviews db.ReviewReader
	settler Settler
	policy  ApprovalPolicy
	log     *logger.Logger
}

func NewApprovalService(reviews db.ReviewReader, settler Settler, policy ApprovalPolicy, log *logger.Logger) *ApprovalService {
	return &ApprovalService{reviews: reviews, settler: settler, policy: policy, log: log}
}

// Authority reports the decision for a stored payment.
func (s *ApprovalService) Authority(ctx context.Context, paymentID string) (Decision, error) {
	review, err := s.reviews.PaymentForReview(ctx, paymentID)
	if err != nil {
		return Decision{}, err
	}
	return ResolveAuthority(subjectOf(review), s.policy), nil
}

func (s *ApprovalService) Approve(ctx context.Context, actor Actor, paymentID string) (*SettlementResult, error) {
	review, err := s.authorize(ctx, actor, paymentID)
	if err != nil {
		metrics.RecordApprovalDecision("approve", errors.KindOf(err).String())
		return nil, err
	}

	p := review.Payment
	res, err := s.settler.Settle(ctx, Outcome{
		EnrollmentID:  p.EnrollmentID,
		InstitutionID: review.InstitutionID,
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		ExternalRef:   p.ExternalRef,
		Disposition:   DispositionSuccess,
		Actor:         actor.ID,
	})
	if err != nil {
		metrics.RecordApprovalDecision("approve", errors.KindOf(err).String())
		return nil, err
	}
	metrics.RecordApprovalDecision("approve", "ok")
	s.log.Info("Payment %s approved by %s (%s)", p.ID, actor.ID, actor.Role)
	return res, nil
}

func (s *ApprovalService) Disapprove(ctx context.Context, actor Actor, paymentID, reason string) (*SettlementResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.E(errors.Invalid, "a reason is required to disapprove a payment")
	}
	review, err := s.authorize(ctx, actor, paymentID)
	if err != nil {
		metrics.RecordApprovalDecision("disapprove", errors.KindOf(err).String())
		return nil, err
	}

	p := review.Payment
	res, err := s.settler.Settle(ctx, Outcome{
		EnrollmentID:  p.EnrollmentID,
		InstitutionID: review.InstitutionID,
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		ExternalRef:   p.ExternalRef,
		Disposition:   DispositionFailure,
		FailureReason: reason,
		Actor:         actor.ID,
	})
	if err != nil {
		metrics.RecordApprovalDecision("disapprove", errors.KindOf(err).String())
		return nil, err
	}
	metrics.RecordApprovalDecision("disapprove", "ok")
	s.log.Info("Payment %s disapproved by %s: %s", p.ID, actor.ID, reason)
	return res, nil
}

func (s *ApprovalService) authorize(ctx context.Context, actor Actor, paymentID string) (*models.PaymentReview, error) {
	review, err := s.reviews.PaymentForReview(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case RoleAdmin:
	case RoleInstitution:
		decision := ResolveAuthority(subjectOf(review), s.policy)
		if decision.Authority != AuthorityInstitutionOrAdmin {
			return nil, errors.E(errors.Forbidden, decision.Reason)
		}
		if actor.InstitutionID == "" || actor.InstitutionID != review.InstitutionID {
			return nil, errors.E(errors.Forbidden, "payment belongs to another institution")
		}
	default:
		return nil, errors.E(errors.Unauthorized, fmt.Sprintf("role %q cannot review payments", actor.Role))
	}

	switch review.Payment.Status {
	case models.PaymentPending, models.PaymentProcessing:
		return review, nil
	default:
		return nil, errors.E(errors.InvalidTransition,
			fmt.Sprintf("payment %s is %s and can no longer be reviewed", paymentID, review.Payment.Status))
	}
}

func subjectOf(r *models.PaymentReview) ApprovalSubject {
	return ApprovalSubject{InstitutionID: r.InstitutionID, Method: r.Payment.Method}
}
