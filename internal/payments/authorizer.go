// Package payments decides whether a purchase may proceed against the payer's
// spending session and drives the transfer through settlement and the ledger.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/catalog"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/repositories"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

var (
	// ErrVideoNotFound indicates the requested video is not in the catalog.
	ErrVideoNotFound = errors.New("video not found")
)

// Decision is the authorizer's verdict for a purchase attempt.
type Decision string

const (
	// DecisionProceed allows the purchase to continue to settlement.
	DecisionProceed Decision = "proceed"
	// DecisionAlreadyPaid short-circuits a repeat purchase of the same video.
	DecisionAlreadyPaid Decision = "already_paid"
	// DecisionSessionRequired means the payer has no usable session.
	DecisionSessionRequired Decision = "session_required"
	// DecisionTopUpRequired means the session balance cannot cover the price.
	DecisionTopUpRequired Decision = "top_up_required"
)

// Authorization is the authorizer's answer. Session and Video are populated
// whenever they were resolved; Shortfall only for DecisionTopUpRequired and
// PriorSignature only for DecisionAlreadyPaid.
type Authorization struct {
	Decision       Decision
	Session        models.Session
	Video          models.Video
	Shortfall      decimal.Decimal
	PriorSignature string
}

// VerifiedLookup finds a previously verified payment for a payer and video.
type VerifiedLookup interface {
	FindVerified(ctx context.Context, wallet, videoID string) (models.Payment, error)
}

// SessionSource resolves the payer's active session.
type SessionSource interface {
	GetActiveSession(ctx context.Context, wallet string) (models.Session, error)
}

// Authorizer gates purchases on catalog price, prior payments, and session
// balance. It never touches the chain.
type Authorizer struct {
	videos   catalog.Source
	payments VerifiedLookup
	sessions SessionSource
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(videos catalog.Source, payments VerifiedLookup, sessions SessionSource) *Authorizer {
	return &Authorizer{videos: videos, payments: payments, sessions: sessions}
}

// Authorize decides whether the payer may buy the video right now.
//
// A prior verified payment wins over everything else: a payer who already
// owns the video is told so even when their session is gone or empty, and the
// original signature is returned so the client can re-unlock playback.
func (a *Authorizer) Authorize(ctx context.Context, payerWallet, videoID string) (Authorization, error) {
	video, err := a.videos.FindByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Authorization{}, ErrVideoNotFound
		}
		return Authorization{}, fmt.Errorf("look up video: %w", err)
	}

	prior, err := a.payments.FindVerified(ctx, payerWallet, videoID)
	if err == nil {
		return Authorization{
			Decision:       DecisionAlreadyPaid,
			Video:          video,
			PriorSignature: prior.TxSignature,
		}, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return Authorization{}, fmt.Errorf("look up prior payment: %w", err)
	}

	active, err := a.sessions.GetActiveSession(ctx, payerWallet)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return Authorization{Decision: DecisionSessionRequired, Video: video}, nil
		}
		return Authorization{}, fmt.Errorf("look up session: %w", err)
	}

	remaining := active.RemainingAmount()
	if remaining.LessThan(video.Price) {
		return Authorization{
			Decision:  DecisionTopUpRequired,
			Session:   active,
			Video:     video,
			Shortfall: video.Price.Sub(remaining),
		}, nil
	}

	return Authorization{Decision: DecisionProceed, Session: active, Video: video}, nil
}
