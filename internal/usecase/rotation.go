package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"simctl/internal/domain"
)

// RotationService obtains a new outbound identity by toggling connectivity
// off and on again.
type RotationService struct {
	toggler  ConnectivityToggler
	identity IdentityProvider
	logger   *zerolog.Logger

	mu     sync.Mutex
	settle time.Duration
}

func NewRotationService(toggler ConnectivityToggler, identity IdentityProvider, settle time.Duration, logger *zerolog.Logger) *RotationService {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &RotationService{toggler: toggler, identity: identity, settle: settle, logger: logger}
}

// SetSettleDelay changes the wait applied after each toggle.
func (r *RotationService) SetSettleDelay(d time.Duration) {
	r.mu.Lock()
	r.settle = d
	r.mu.Unlock()
}

func (r *RotationService) SettleDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settle
}

func (r *RotationService) Rotate(ctx context.Context) domain.RotationResult {
	before := r.identity.Current()
	if before == "" {
		if v, err := r.identity.Refresh(ctx); err == nil {
			before = v
		}
	}
	settle := r.SettleDelay()
	r.logger.Debug().Str("identity", before).Dur("settle", settle).Msg("rotating identity")

	if err := r.toggler.SetConnectivity(ctx, false); err != nil {
		return domain.RotationResult{PreviousIdentity: before, Message: fmt.Sprintf("disable connectivity: %v", err)}
	}
	if err := sleepCtx(ctx, settle); err != nil {
		// never leave the device offline
		_ = r.toggler.SetConnectivity(context.WithoutCancel(ctx), true)
		return domain.RotationResult{PreviousIdentity: before, Message: "rotation interrupted"}
	}
	if err := r.toggler.SetConnectivity(ctx, true); err != nil {
		return domain.RotationResult{PreviousIdentity: before, Message: fmt.Sprintf("enable connectivity: %v", err)}
	}
	if err := sleepCtx(ctx, settle); err != nil {
		return domain.RotationResult{PreviousIdentity: before, Message: "rotation interrupted"}
	}

	after, err := r.identity.Refresh(ctx)
	if err != nil {
		return domain.RotationResult{PreviousIdentity: before, Message: fmt.Sprintf("query identity: %v", err)}
	}
	switch {
	case after == "":
		return domain.RotationResult{PreviousIdentity: before, Message: "identity unavailable after toggle"}
	case after == before:
		return domain.RotationResult{PreviousIdentity: before, NewIdentity: after, Message: "identity unchanged after toggle"}
	}
	return domain.RotationResult{Success: true, PreviousIdentity: before, NewIdentity: after, Message: "identity rotated"}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
