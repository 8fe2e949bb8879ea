package router

import (
	"context"
	"errors"

	"github.com/toncenter/ton-dispatch-go/models"
	"github.com/toncenter/ton-dispatch-go/rpc"
)

// Sessions lists the apps connected to a wallet.
func (r *Router) Sessions(ctx context.Context, walletID string) ([]models.Session, error) {
	return r.deps.Sessions.ListByWallet(ctx, walletID)
}

// DisconnectSession ends a session from the wallet side. The app is told on a best effort basis.
func (r *Router) DisconnectSession(ctx context.Context, clientSessionID string) error {
	session, err := r.deps.Sessions.Get(ctx, clientSessionID)
	if err != nil {
		return err
	}
	return r.disconnect(ctx, session)
}

func (r *Router) disconnect(ctx context.Context, session models.Session) error {
	r.forget(ctx, session)
	eventID, err := r.deps.Sessions.NextWalletEventID(ctx)
	if err != nil {
		return err
	}
	payload, err := rpc.DisconnectEvent(eventID)
	if err := r.reply(ctx, session, rpc.EventDisconnect, payload, err); err != nil {
		r.deps.Logger.WithError(err).WithField("session", session.ClientSessionID).Warn("Failed to notify app about disconnect")
	}
	return nil
}

// RemoveWallet disconnects every app of a wallet and drops its sessions.
func (r *Router) RemoveWallet(ctx context.Context, walletID string) error {
	sessions, err := r.deps.Sessions.ListByWallet(ctx, walletID)
	if err != nil {
		return err
	}
	var errs []error
	for _, session := range sessions {
		errs = append(errs, r.disconnect(ctx, session))
	}
	if _, err := r.deps.Sessions.RemoveWallet(ctx, walletID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
