package services

import (
	"context"
	"errors"
	"testing"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/domain"
)

type stubBriqAPI struct {
	createCalls int
	updateCalls int
	getCalls    int

	createSession func(ctx context.Context, req briq.SessionRequest) (briq.Session, error)
	updateSession func(ctx context.Context, sessionID string, req briq.SessionRequest) (briq.Session, error)
	getSession    func(ctx context.Context, sessionID string) (briq.Session, error)
}

func (s *stubBriqAPI) CreateSession(ctx context.Context, req briq.SessionRequest) (briq.Session, error) {
	s.createCalls++
	if s.createSession == nil {
		return briq.Session{SessionID: "sess-new", Order: req.Order}, nil
	}
	return s.createSession(ctx, req)
}

func (s *stubBriqAPI) UpdateSession(ctx context.Context, sessionID string, req briq.SessionRequest) (briq.Session, error) {
	s.updateCalls++
	if s.updateSession == nil {
		return briq.Session{SessionID: sessionID, Order: req.Order}, nil
	}
	return s.updateSession(ctx, sessionID, req)
}

func (s *stubBriqAPI) GetSession(ctx context.Context, sessionID string) (briq.Session, error) {
	s.getCalls++
	if s.getSession == nil {
		return briq.Session{}, briq.ErrSessionNotFound
	}
	return s.getSession(ctx, sessionID)
}

type stubCartClient struct {
	setCalls int
	lastSet  struct {
		cartID  string
		version int64
		typeID  string
		name    string
		value   any
	}

	getCart        func(ctx context.Context, id string) (domain.Cart, error)
	setCustomField func(ctx context.Context, cartID string, version int64, typeID, name string, value any) (domain.Cart, error)
}

func (s *stubCartClient) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	if s.getCart == nil {
		return domain.Cart{}, commerce.ErrCartNotFound
	}
	return s.getCart(ctx, id)
}

func (s *stubCartClient) SetCustomField(ctx context.Context, cartID string, version int64, typeID, name string, value any) (domain.Cart, error) {
	s.setCalls++
	s.lastSet.cartID = cartID
	s.lastSet.version = version
	s.lastSet.typeID = typeID
	s.lastSet.name = name
	s.lastSet.value = value
	if s.setCustomField == nil {
		return domain.Cart{}, nil
	}
	return s.setCustomField(ctx, cartID, version, typeID, name, value)
}

type fixedTypeClient struct{}

func (fixedTypeClient) GetTypeByKey(_ context.Context, key string) (domain.TypeReference, error) {
	return domain.TypeReference{ID: "type-1", Key: key}, nil
}

func newTestSessionService(t *testing.T, api *stubBriqAPI, carts *stubCartClient) *SessionService {
	t.Helper()
	types, err := commerce.NewTypeKeyResolver(fixedTypeClient{})
	if err != nil {
		t.Fatalf("unexpected resolver error: %v", err)
	}
	svc, err := NewSessionService(SessionServiceDeps{
		Briq:            api,
		Carts:           carts,
		Mapper:          newTestMapper(t, nil, nil),
		Types:           types,
		TypeKey:         "briq-session",
		TermsURL:        "https://shop.example/terms",
		ConfirmationURL: "https://shop.example/confirmation",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return svc
}

func cartWithSession(sessionID string) domain.Cart {
	cart := simpleCart()
	if sessionID != "" {
		cart.Custom = &domain.CustomFields{
			Type:   domain.TypeReference{ID: "type-1", Key: "briq-session"},
			Fields: map[string]any{FieldSessionID: sessionID},
		}
	}
	return cart
}

func remoteSessionFor(t *testing.T, sessionID string, cart domain.Cart) briq.Session {
	t.Helper()
	order, err := newTestMapper(t, nil, nil).BuildSessionOrder(context.Background(), cart)
	if err != nil {
		t.Fatalf("unexpected mapping error: %v", err)
	}
	return briq.Session{SessionID: sessionID, HTMLSnippet: "<div>briq</div>", Order: order}
}

func TestEnsureSessionCreatesWhenCartHasNoSession(t *testing.T) {
	api := &stubBriqAPI{
		createSession: func(_ context.Context, req briq.SessionRequest) (briq.Session, error) {
			if req.References.CartID != "cart-1" {
				t.Fatalf("unexpected cart reference: %+v", req.References)
			}
			if req.URLs.Terms != "https://shop.example/terms" {
				t.Fatalf("unexpected terms url: %+v", req.URLs)
			}
			if req.Country != "DE" || req.Locale != "de" {
				t.Fatalf("unexpected country/locale: %+v", req)
			}
			return briq.Session{SessionID: "sess-new", HTMLSnippet: "<div/>", Order: req.Order}, nil
		},
	}
	carts := &stubCartClient{
		getCart: func(_ context.Context, id string) (domain.Cart, error) {
			return cartWithSession(""), nil
		},
	}
	svc := newTestSessionService(t, api, carts)

	session, err := svc.EnsureSession(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "sess-new" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if api.createCalls != 1 || api.getCalls != 0 || api.updateCalls != 0 {
		t.Fatalf("unexpected call mix: %+v", api)
	}
	if carts.setCalls != 1 {
		t.Fatalf("expected session id persisted once, got %d", carts.setCalls)
	}
	if carts.lastSet.name != FieldSessionID || carts.lastSet.value != "sess-new" {
		t.Fatalf("unexpected custom field write: %+v", carts.lastSet)
	}
	if carts.lastSet.typeID != "type-1" {
		t.Fatalf("expected resolved type id on first write, got %q", carts.lastSet.typeID)
	}
	if carts.lastSet.version != 3 {
		t.Fatalf("expected cart version submitted, got %d", carts.lastSet.version)
	}
}

func TestEnsureSessionReusesMatchingRemoteSession(t *testing.T) {
	cart := cartWithSession("sess-1")
	api := &stubBriqAPI{
		getSession: func(_ context.Context, sessionID string) (briq.Session, error) {
			return remoteSessionFor(t, sessionID, cart), nil
		},
	}
	carts := &stubCartClient{
		getCart: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	svc := newTestSessionService(t, api, carts)

	session, err := svc.EnsureSession(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "sess-1" {
		t.Fatalf("expected remote session reused, got %+v", session)
	}
	if api.updateCalls != 0 || api.createCalls != 0 {
		t.Fatalf("reuse must not write remotely: %+v", api)
	}
	if carts.setCalls != 0 {
		t.Fatalf("unchanged session id must not bump the cart version, got %d writes", carts.setCalls)
	}
}

func TestEnsureSessionUpdatesDriftedRemoteSession(t *testing.T) {
	cart := cartWithSession("sess-1")
	api := &stubBriqAPI{
		getSession: func(_ context.Context, sessionID string) (briq.Session, error) {
			stale := remoteSessionFor(t, sessionID, cart)
			stale.Order.AmountIncVAT += 100
			stale.Order.CartItems[0].UnitPriceIncVAT += 50
			return stale, nil
		},
	}
	carts := &stubCartClient{
		getCart: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	svc := newTestSessionService(t, api, carts)

	session, err := svc.EnsureSession(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "sess-1" {
		t.Fatalf("expected in-place update, got %+v", session)
	}
	if api.updateCalls != 1 || api.createCalls != 0 {
		t.Fatalf("unexpected call mix: %+v", api)
	}
}

func TestEnsureSessionFallsBackToCreateWhenUpdateFails(t *testing.T) {
	cart := cartWithSession("sess-1")
	api := &stubBriqAPI{
		getSession: func(_ context.Context, sessionID string) (briq.Session, error) {
			stale := remoteSessionFor(t, sessionID, cart)
			stale.Order.AmountIncVAT += 100
			return stale, nil
		},
		updateSession: func(context.Context, string, briq.SessionRequest) (briq.Session, error) {
			return briq.Session{}, errors.New("boom")
		},
	}
	carts := &stubCartClient{
		getCart: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	svc := newTestSessionService(t, api, carts)

	session, err := svc.EnsureSession(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("update failure must not surface, got %v", err)
	}
	if session.SessionID != "sess-new" {
		t.Fatalf("expected fallback session, got %+v", session)
	}
	if api.updateCalls != 1 || api.createCalls != 1 {
		t.Fatalf("unexpected call mix: %+v", api)
	}
	if carts.lastSet.value != "sess-new" {
		t.Fatalf("expected new session id persisted, got %+v", carts.lastSet)
	}
}

func TestEnsureSessionFallsBackToCreateWhenFetchFails(t *testing.T) {
	cart := cartWithSession("sess-expired")
	api := &stubBriqAPI{} // GetSession defaults to ErrSessionNotFound
	carts := &stubCartClient{
		getCart: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	svc := newTestSessionService(t, api, carts)

	session, err := svc.EnsureSession(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "sess-new" {
		t.Fatalf("expected fresh session, got %+v", session)
	}
	if api.getCalls != 1 || api.createCalls != 1 {
		t.Fatalf("unexpected call mix: %+v", api)
	}
}

func TestEnsureSessionSkipsTypeResolutionWhenCartHasType(t *testing.T) {
	cart := cartWithSession("sess-old")
	api := &stubBriqAPI{}
	carts := &stubCartClient{
		getCart: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	svc := newTestSessionService(t, api, carts)

	if _, err := svc.EnsureSession(context.Background(), "cart-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The cart already carries the custom type, so the write omits the type id.
	if carts.lastSet.typeID != "" {
		t.Fatalf("expected no type id on subsequent writes, got %q", carts.lastSet.typeID)
	}
}

func TestEnsureSessionRequiresCartID(t *testing.T) {
	svc := newTestSessionService(t, &stubBriqAPI{}, &stubCartClient{})

	if _, err := svc.EnsureSession(context.Background(), "  "); !errors.Is(err, ErrSessionInvalidInput) {
		t.Fatalf("expected ErrSessionInvalidInput, got %v", err)
	}
}

func TestOrdersMatchSalesTaxBranch(t *testing.T) {
	local := briq.SessionOrder{
		Currency:     "USD",
		AmountIncVAT: 2178,
		CartItems: []briq.CartItem{
			{ProductType: briq.ProductTypePhysical, Reference: "li-1", Name: "Mug", Quantity: 1, UnitPriceIncVAT: 2000, TaxRate: 888},
			{ProductType: briq.ProductTypeSalesTax, Reference: "sales_tax", Name: "Sales Tax", TotalTaxAmount: 178},
		},
	}
	remote := local
	remote.CartItems = append([]briq.CartItem(nil), local.CartItems...)

	if !ordersMatch(local, remote) {
		t.Fatalf("identical orders must match")
	}

	// Sales-tax lines compare on total tax amount, not unit price.
	remote.CartItems[1].TotalTaxAmount = 200
	if ordersMatch(local, remote) {
		t.Fatalf("drifted sales tax amount must not match")
	}

	remote.CartItems[1].TotalTaxAmount = 178
	remote.CartItems[1].UnitPriceIncVAT = 999
	if !ordersMatch(local, remote) {
		t.Fatalf("unit price is ignored on sales tax lines")
	}
}

func TestOrdersMatchDetectsLineDrift(t *testing.T) {
	base := briq.SessionOrder{
		Currency:     "EUR",
		AmountIncVAT: 2380,
		CartItems: []briq.CartItem{
			{ProductType: briq.ProductTypePhysical, Reference: "li-1", Name: "Tasse", Quantity: 2, UnitPriceIncVAT: 1190, TaxRate: 1900},
		},
	}

	mutate := []struct {
		name string
		fn   func(*briq.SessionOrder)
	}{
		{"total amount", func(o *briq.SessionOrder) { o.AmountIncVAT++ }},
		{"quantity", func(o *briq.SessionOrder) { o.CartItems[0].Quantity++ }},
		{"unit price", func(o *briq.SessionOrder) { o.CartItems[0].UnitPriceIncVAT++ }},
		{"tax rate", func(o *briq.SessionOrder) { o.CartItems[0].TaxRate++ }},
		{"name", func(o *briq.SessionOrder) { o.CartItems[0].Name = "Becher" }},
		{"reference", func(o *briq.SessionOrder) { o.CartItems[0].Reference = "li-2" }},
		{"extra line", func(o *briq.SessionOrder) { o.CartItems = append(o.CartItems, briq.CartItem{}) }},
	}
	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			remote := base
			remote.CartItems = append([]briq.CartItem(nil), base.CartItems...)
			tc.fn(&remote)
			if ordersMatch(base, remote) {
				t.Fatalf("drift in %s must not match", tc.name)
			}
		})
	}
}
