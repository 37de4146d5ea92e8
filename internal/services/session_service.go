package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/domain"
)

// Custom field names persisted on the cart.
const (
	// FieldSessionID stores the provider session id on the cart.
	FieldSessionID = "briqSessionId"
)

var (
	// ErrSessionInvalidInput indicates the caller supplied invalid input parameters.
	ErrSessionInvalidInput = errors.New("session service: invalid input")
)

// briqSessionAPI abstracts the provider session calls for easier testing.
type briqSessionAPI interface {
	CreateSession(ctx context.Context, req briq.SessionRequest) (briq.Session, error)
	UpdateSession(ctx context.Context, sessionID string, req briq.SessionRequest) (briq.Session, error)
	GetSession(ctx context.Context, sessionID string) (briq.Session, error)
}

// SessionServiceDeps wires the dependencies required by the session service.
type SessionServiceDeps struct {
	Briq   briqSessionAPI
	Carts  commerce.CartClient
	Mapper *CartMapper
	Types  *commerce.TypeKeyResolver
	// TypeKey is the platform custom-type key carrying the session id field.
	TypeKey string
	// TermsURL and ConfirmationURL are shown inside the provider widget.
	TermsURL        string
	ConfirmationURL string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// SessionService reconciles the provider session against the cart: reuse when
// they still match, update in place when they drifted, and create as the
// fallback for every failure. An extra remote session is always preferred
// over a failed checkout.
type SessionService struct {
	briq            briqSessionAPI
	carts           commerce.CartClient
	mapper          *CartMapper
	types           *commerce.TypeKeyResolver
	typeKey         string
	termsURL        string
	confirmationURL string
	logger          func(ctx context.Context, event string, fields map[string]any)
}

// NewSessionService constructs a SessionService validating required dependencies.
func NewSessionService(deps SessionServiceDeps) (*SessionService, error) {
	if deps.Briq == nil {
		return nil, errors.New("session service: briq api is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("session service: cart client is required")
	}
	if deps.Mapper == nil {
		return nil, errors.New("session service: cart mapper is required")
	}
	if deps.Types == nil {
		return nil, errors.New("session service: type resolver is required")
	}
	if strings.TrimSpace(deps.TypeKey) == "" {
		return nil, errors.New("session service: type key is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SessionService{
		briq:            deps.Briq,
		carts:           deps.Carts,
		mapper:          deps.Mapper,
		types:           deps.Types,
		typeKey:         deps.TypeKey,
		termsURL:        deps.TermsURL,
		confirmationURL: deps.ConfirmationURL,
		logger:          logger,
	}, nil
}

// EnsureSession returns a valid provider session for the cart and persists
// its id on the cart's custom fields.
func (s *SessionService) EnsureSession(ctx context.Context, cartID string) (briq.Session, error) {
	if strings.TrimSpace(cartID) == "" {
		return briq.Session{}, fmt.Errorf("%w: cart id is required", ErrSessionInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return briq.Session{}, fmt.Errorf("load cart %s: %w", cartID, err)
	}

	req, err := s.buildSessionRequest(ctx, cart)
	if err != nil {
		return briq.Session{}, err
	}

	session, err := s.reconcile(ctx, cart, req)
	if err != nil {
		return briq.Session{}, err
	}

	if err := s.persistSessionID(ctx, cart, session.SessionID); err != nil {
		return briq.Session{}, err
	}
	return session, nil
}

// reconcile decides between reusing, updating, and creating the remote
// session. Every failure on the reuse/update path falls back to creating a
// fresh session; only creation failures surface to the caller.
func (s *SessionService) reconcile(ctx context.Context, cart domain.Cart, req briq.SessionRequest) (briq.Session, error) {
	storedID := cart.Custom.StringField(FieldSessionID)
	if storedID == "" {
		return s.create(ctx, cart, req)
	}

	remote, err := s.briq.GetSession(ctx, storedID)
	if err != nil {
		s.logger(ctx, "session.fetch_failed", map[string]any{
			"cart_id":    cart.ID,
			"session_id": storedID,
			"error":      err.Error(),
		})
		return s.create(ctx, cart, req)
	}

	if ordersMatch(req.Order, remote.Order) {
		s.logger(ctx, "session.reused", map[string]any{
			"cart_id":    cart.ID,
			"session_id": storedID,
		})
		return remote, nil
	}

	updated, err := s.briq.UpdateSession(ctx, storedID, req)
	if err != nil {
		s.logger(ctx, "session.update_failed", map[string]any{
			"cart_id":    cart.ID,
			"session_id": storedID,
			"error":      err.Error(),
		})
		return s.create(ctx, cart, req)
	}
	s.logger(ctx, "session.updated", map[string]any{
		"cart_id":    cart.ID,
		"session_id": updated.SessionID,
	})
	return updated, nil
}

func (s *SessionService) create(ctx context.Context, cart domain.Cart, req briq.SessionRequest) (briq.Session, error) {
	session, err := s.briq.CreateSession(ctx, req)
	if err != nil {
		return briq.Session{}, fmt.Errorf("create session for cart %s: %w", cart.ID, err)
	}
	s.logger(ctx, "session.created", map[string]any{
		"cart_id":    cart.ID,
		"session_id": session.SessionID,
	})
	return session, nil
}

func (s *SessionService) buildSessionRequest(ctx context.Context, cart domain.Cart) (briq.SessionRequest, error) {
	order, err := s.mapper.BuildSessionOrder(ctx, cart)
	if err != nil {
		return briq.SessionRequest{}, err
	}
	country, _ := cartCountryState(cart)
	return briq.SessionRequest{
		Country:     country,
		Locale:      cart.Locale,
		HolderEmail: cart.CustomerEmail,
		Order:       order,
		References:  briq.References{CartID: cart.ID},
		URLs: briq.SessionURLs{
			Terms:        s.termsURL,
			Confirmation: s.confirmationURL,
		},
	}, nil
}

// persistSessionID writes the session id onto the cart's custom fields,
// resolving the custom type first when the cart has none yet. The write is
// skipped when the stored id is already current, avoiding a version bump.
func (s *SessionService) persistSessionID(ctx context.Context, cart domain.Cart, sessionID string) error {
	if cart.Custom.StringField(FieldSessionID) == sessionID {
		return nil
	}

	typeID := ""
	if cart.Custom == nil || cart.Custom.Type.ID == "" {
		ref, err := s.types.Resolve(ctx, s.typeKey)
		if err != nil {
			return err
		}
		typeID = ref.ID
	}

	if _, err := s.carts.SetCustomField(ctx, cart.ID, cart.Version, typeID, FieldSessionID, sessionID); err != nil {
		return fmt.Errorf("persist session id on cart %s: %w", cart.ID, err)
	}
	return nil
}

// ordersMatch structurally compares the freshly mapped order against the
// remote session order: total amount plus a per-line match. Sales-tax lines
// compare on total tax amount instead of unit price.
func ordersMatch(local, remote briq.SessionOrder) bool {
	if local.AmountIncVAT != remote.AmountIncVAT {
		return false
	}
	if !strings.EqualFold(local.Currency, remote.Currency) {
		return false
	}
	if len(local.CartItems) != len(remote.CartItems) {
		return false
	}
	for i := range local.CartItems {
		if !linesMatch(local.CartItems[i], remote.CartItems[i]) {
			return false
		}
	}
	return true
}

func linesMatch(a, b briq.CartItem) bool {
	if a.ProductType != b.ProductType || a.Reference != b.Reference || a.Name != b.Name {
		return false
	}
	if a.IsSalesTax() {
		return a.TotalTaxAmount == b.TotalTaxAmount
	}
	return a.Quantity == b.Quantity &&
		a.UnitPriceIncVAT == b.UnitPriceIncVAT &&
		a.TaxRate == b.TaxRate
}
