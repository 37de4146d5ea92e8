package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/domain"
)

const (
	totalDiscountReference    = "discount-total"
	shippingReference         = "shipping"
	shippingDiscountReference = "shipping-discount"
	salesTaxReference         = "sales_tax"
	lineDiscountSuffix        = "-discount"

	fallbackDiscountName = "Discount"
	fallbackShippingName = "Shipping"
	salesTaxName         = "Sales Tax"
)

var (
	// ErrMapperInvalidCart indicates the cart is missing data the provider requires.
	ErrMapperInvalidCart = errors.New("cart mapper: invalid cart")
	// ErrTaxRateUnresolved indicates no tax rate could be determined for the cart.
	// Tax is never silently assumed.
	ErrTaxRateUnresolved = errors.New("cart mapper: tax rate could not be resolved")
)

// CartMapperDeps wires the dependencies required by the cart mapper.
type CartMapperDeps struct {
	Discounts commerce.DiscountClient
	Taxes     commerce.TaxClient
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// CartMapper translates platform carts into provider session orders. Discounts
// are always emitted as separate negative lines at the original unit price so
// a later structural diff against remote session state stays exact.
type CartMapper struct {
	discounts commerce.DiscountClient
	taxes     commerce.TaxClient
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCartMapper constructs a CartMapper validating required dependencies.
func NewCartMapper(deps CartMapperDeps) (*CartMapper, error) {
	if deps.Discounts == nil {
		return nil, errors.New("cart mapper: discount client is required")
	}
	if deps.Taxes == nil {
		return nil, errors.New("cart mapper: tax client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartMapper{discounts: deps.Discounts, taxes: deps.Taxes, logger: logger}, nil
}

// BuildSessionOrder maps the cart into the provider order payload: one line
// per cart position, plus discount, shipping, and sales-tax lines as needed.
func (m *CartMapper) BuildSessionOrder(ctx context.Context, cart domain.Cart) (briq.SessionOrder, error) {
	if len(cart.LineItems) == 0 {
		return briq.SessionOrder{}, fmt.Errorf("%w: cart %s has no line items", ErrMapperInvalidCart, cart.ID)
	}
	currency := cart.GrossTotal().CurrencyCode
	if strings.TrimSpace(currency) == "" {
		return briq.SessionOrder{}, fmt.Errorf("%w: cart %s has no currency", ErrMapperInvalidCart, cart.ID)
	}

	discountNames, err := m.lookupDiscountNames(ctx, cart)
	if err != nil {
		return briq.SessionOrder{}, err
	}

	items := make([]briq.CartItem, 0, len(cart.LineItems)+3)
	for i := range cart.LineItems {
		lineItems, err := m.mapLineItem(ctx, cart, cart.LineItems[i], discountNames)
		if err != nil {
			return briq.SessionOrder{}, err
		}
		items = append(items, lineItems...)
	}

	if line, ok := m.buildTotalDiscountLine(cart); ok {
		items = append(items, line)
	}
	shippingLines, err := m.buildShippingLines(ctx, cart)
	if err != nil {
		return briq.SessionOrder{}, err
	}
	items = append(items, shippingLines...)
	if line, ok, err := m.buildSalesTaxLine(ctx, cart); err != nil {
		return briq.SessionOrder{}, err
	} else if ok {
		items = append(items, line)
	}

	order := briq.SessionOrder{
		Currency:     currency,
		AmountIncVAT: cart.GrossTotal().CentAmount,
		CartItems:    items,
	}
	if cart.TaxedPrice != nil {
		net := cart.TaxedPrice.TotalNet.CentAmount
		order.AmountExVAT = &net
	}
	return order, nil
}

// mapLineItem emits the lines for one cart position: either a single discount
// line (gift-card / discounted-price mode), or a regular line at the original
// unit price plus an exact-difference discount line when the position carries
// per-quantity discounts.
func (m *CartMapper) mapLineItem(ctx context.Context, cart domain.Cart, li domain.LineItem, discountNames map[string]string) ([]briq.CartItem, error) {
	rate, err := m.lineTaxRate(ctx, cart, li)
	if err != nil {
		return nil, err
	}
	name := resolveDisplayName(li, cart.Locale)

	if li.DiscountedPrice != nil {
		// The whole line is a discount carrier: amounts come straight from
		// its totals, never recomputed from a percentage.
		totalGross := li.TotalPrice.CentAmount
		totalNet := netFromGross(totalGross, rate)
		if li.TaxedPrice != nil {
			totalNet = li.TaxedPrice.TotalNet.CentAmount
			totalGross = li.TaxedPrice.TotalGross.CentAmount
		}
		return []briq.CartItem{{
			ProductType:     briq.ProductTypeDiscount,
			Reference:       li.ID,
			Name:            name,
			Quantity:        1,
			UnitPrice:       totalNet,
			UnitPriceIncVAT: totalGross,
			TaxRate:         permyriad(rate.Amount),
			TotalAmount:     totalGross,
			TotalTaxAmount:  totalGross - totalNet,
		}}, nil
	}

	// In net pricing markets netFromGross is the identity and the order's tax
	// is carried by a separate sales_tax line.
	unitGross := li.Price.CentAmount
	unitNet := netFromGross(unitGross, rate)
	totalGross := li.OriginalGrossTotal()
	totalNet := netFromGross(totalGross, rate)

	lines := []briq.CartItem{{
		ProductType:     classifyProductType(li),
		Reference:       li.ID,
		Name:            name,
		Quantity:        li.Quantity,
		UnitPrice:       unitNet,
		UnitPriceIncVAT: unitGross,
		TaxRate:         permyriad(rate.Amount),
		TotalAmount:     totalGross,
		TotalTaxAmount:  totalGross - totalNet,
		ImageURL:        li.ImageURL,
	}}

	// Per-quantity discount: the discount line amount is the exact difference
	// between the original and actual gross totals. A line discounted to zero
	// still carries its breakdown, so presence of the breakdown is the signal,
	// not a non-zero actual total.
	if delta := li.TotalPrice.CentAmount - totalGross; delta != 0 && len(li.DiscountedPricePerQuantity) > 0 {
		discountGross := delta
		discountNet := netFromGross(discountGross, rate)
		lines = append(lines, briq.CartItem{
			ProductType:     briq.ProductTypeDiscount,
			Reference:       li.ID + lineDiscountSuffix,
			Name:            lineDiscountName(li, discountNames),
			Quantity:        1,
			UnitPrice:       discountNet,
			UnitPriceIncVAT: discountGross,
			TaxRate:         permyriad(rate.Amount),
			TotalAmount:     discountGross,
			TotalTaxAmount:  discountGross - discountNet,
		})
	}
	return lines, nil
}

func (m *CartMapper) buildTotalDiscountLine(cart domain.Cart) (briq.CartItem, bool) {
	d := cart.DiscountOnTotalPrice
	if d == nil {
		return briq.CartItem{}, false
	}
	gross := d.DiscountedGross.CentAmount
	if gross == 0 {
		gross = d.DiscountedAmount.CentAmount
	}
	if gross == 0 {
		return briq.CartItem{}, false
	}
	// Stored positive on the cart, emitted negative on the session.
	gross = -gross
	net := gross
	if d.DiscountedNet.CentAmount != 0 {
		net = -d.DiscountedNet.CentAmount
	}
	return briq.CartItem{
		ProductType:     briq.ProductTypeDiscount,
		Reference:       totalDiscountReference,
		Name:            fallbackDiscountName,
		Quantity:        1,
		UnitPrice:       net,
		UnitPriceIncVAT: gross,
		TotalAmount:     gross,
		TotalTaxAmount:  gross - net,
	}, true
}

func (m *CartMapper) buildShippingLines(ctx context.Context, cart domain.Cart) ([]briq.CartItem, error) {
	info := cart.ShippingInfo
	if info == nil {
		return nil, nil
	}
	rate := info.TaxRate
	if rate == nil {
		resolved, err := m.EffectiveTaxRate(ctx, cart)
		if err != nil {
			return nil, err
		}
		rate = &resolved
	}

	name := strings.TrimSpace(info.MethodName)
	if name == "" {
		name = fallbackShippingName
	}
	gross := info.Price.CentAmount
	net := netFromGross(gross, *rate)
	lines := []briq.CartItem{{
		ProductType:     briq.ProductTypeShippingFee,
		Reference:       shippingReference,
		Name:            name,
		Quantity:        1,
		UnitPrice:       net,
		UnitPriceIncVAT: gross,
		TaxRate:         permyriad(rate.Amount),
		TotalAmount:     gross,
		TotalTaxAmount:  gross - net,
	}}

	if info.DiscountedPrice != nil && info.DiscountedPrice.CentAmount != gross {
		discountGross := info.DiscountedPrice.CentAmount - gross
		discountNet := netFromGross(discountGross, *rate)
		lines = append(lines, briq.CartItem{
			ProductType:     briq.ProductTypeDiscount,
			Reference:       shippingDiscountReference,
			Name:            name + " " + fallbackDiscountName,
			Quantity:        1,
			UnitPrice:       discountNet,
			UnitPriceIncVAT: discountGross,
			TaxRate:         permyriad(rate.Amount),
			TotalAmount:     discountGross,
			TotalTaxAmount:  discountGross - discountNet,
		})
	}
	return lines, nil
}

// buildSalesTaxLine emits the tax-only line for net-priced (sales tax) carts.
func (m *CartMapper) buildSalesTaxLine(ctx context.Context, cart domain.Cart) (briq.CartItem, bool, error) {
	if cart.TaxedPrice == nil || cart.TaxedPrice.TotalTax.CentAmount == 0 {
		return briq.CartItem{}, false, nil
	}
	rate, err := m.EffectiveTaxRate(ctx, cart)
	if err != nil {
		return briq.CartItem{}, false, err
	}
	if rate.IncludedInPrice {
		return briq.CartItem{}, false, nil
	}
	return briq.CartItem{
		ProductType:    briq.ProductTypeSalesTax,
		Reference:      salesTaxReference,
		Name:           salesTaxName,
		TotalTaxAmount: cart.TaxedPrice.TotalTax.CentAmount,
	}, true, nil
}

// lineTaxRate returns the line's own rate or falls back to cart-level resolution.
func (m *CartMapper) lineTaxRate(ctx context.Context, cart domain.Cart, li domain.LineItem) (domain.TaxRate, error) {
	if li.TaxRate != nil {
		return *li.TaxRate, nil
	}
	return m.EffectiveTaxRate(ctx, cart)
}

// EffectiveTaxRate resolves the cart's tax rate when a line carries none:
// first line item's own rate, then its tax category matched against the cart
// country and state, then the shipping rate. Resolution failure is fatal.
func (m *CartMapper) EffectiveTaxRate(ctx context.Context, cart domain.Cart) (domain.TaxRate, error) {
	var first *domain.LineItem
	if len(cart.LineItems) > 0 {
		first = &cart.LineItems[0]
	}
	if first != nil && first.TaxRate != nil {
		return *first.TaxRate, nil
	}

	country, state := cartCountryState(cart)
	if first != nil && first.TaxCategoryID != "" {
		rates, err := m.taxes.TaxCategoryRates(ctx, first.TaxCategoryID)
		if err != nil {
			return domain.TaxRate{}, fmt.Errorf("resolve tax category %s: %w", first.TaxCategoryID, err)
		}
		if rate, ok := matchTaxRate(rates, country, state); ok {
			return rate, nil
		}
	}

	if cart.ShippingInfo != nil && cart.ShippingInfo.TaxRate != nil {
		return *cart.ShippingInfo.TaxRate, nil
	}
	m.logger(ctx, "mapper.tax_rate.unresolved", map[string]any{
		"cart_id": cart.ID,
		"country": country,
	})
	return domain.TaxRate{}, fmt.Errorf("%w: cart %s", ErrTaxRateUnresolved, cart.ID)
}

// matchTaxRate picks a category rate by (country, state), then (country, no
// state), then any rate for the country.
func matchTaxRate(rates []domain.TaxRate, country, state string) (domain.TaxRate, bool) {
	if country == "" {
		return domain.TaxRate{}, false
	}
	for _, r := range rates {
		if strings.EqualFold(r.Country, country) && strings.EqualFold(r.State, state) && state != "" {
			return r, true
		}
	}
	for _, r := range rates {
		if strings.EqualFold(r.Country, country) && r.State == "" {
			return r, true
		}
	}
	for _, r := range rates {
		if strings.EqualFold(r.Country, country) {
			return r, true
		}
	}
	return domain.TaxRate{}, false
}

func cartCountryState(cart domain.Cart) (country, state string) {
	if cart.ShippingAddress != nil && cart.ShippingAddress.Country != "" {
		return cart.ShippingAddress.Country, cart.ShippingAddress.State
	}
	if cart.BillingAddress != nil {
		return cart.BillingAddress.Country, cart.BillingAddress.State
	}
	return "", ""
}

// lookupDiscountNames batches display-name resolution for every discount id
// referenced across the cart's line items, one remote call per mapping.
func (m *CartMapper) lookupDiscountNames(ctx context.Context, cart domain.Cart) (map[string]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, li := range cart.LineItems {
		for _, dpq := range li.DiscountedPricePerQuantity {
			for _, inc := range dpq.DiscountedPrice.IncludedDiscounts {
				if inc.DiscountID == "" {
					continue
				}
				if _, ok := seen[inc.DiscountID]; ok {
					continue
				}
				seen[inc.DiscountID] = struct{}{}
				ids = append(ids, inc.DiscountID)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	names, err := m.discounts.DiscountNames(ctx, ids, cart.Locale)
	if err != nil {
		return nil, fmt.Errorf("lookup discount names: %w", err)
	}
	return names, nil
}

// lineDiscountName joins the display names of the discounts applied to the
// line, in first-seen order.
func lineDiscountName(li domain.LineItem, discountNames map[string]string) string {
	var parts []string
	seen := make(map[string]struct{})
	for _, dpq := range li.DiscountedPricePerQuantity {
		for _, inc := range dpq.DiscountedPrice.IncludedDiscounts {
			name, ok := discountNames[inc.DiscountID]
			if !ok || name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return fallbackDiscountName
	}
	return strings.Join(parts, ", ")
}

func classifyProductType(li domain.LineItem) briq.ProductType {
	if li.IsDigital || strings.Contains(strings.ToLower(li.ProductType), "digital") {
		return briq.ProductTypeDigital
	}
	return briq.ProductTypePhysical
}

// resolveDisplayName picks the line name for the cart locale, falling back to
// English, then any available locale, then the product key or id.
func resolveDisplayName(li domain.LineItem, locale string) string {
	if name, ok := li.DisplayName(locale); ok {
		return name
	}
	if len(li.Name) > 0 {
		keys := make([]string, 0, len(li.Name))
		for k := range li.Name {
			if strings.TrimSpace(li.Name[k]) != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			if locale != "" {
				tags := make([]language.Tag, len(keys))
				for i, k := range keys {
					tags[i] = language.Make(k)
				}
				matcher := language.NewMatcher(tags)
				if desired, err := language.Parse(locale); err == nil {
					if _, idx, conf := matcher.Match(desired); conf >= language.High {
						return li.Name[keys[idx]]
					}
				}
			}
			if name, ok := li.DisplayName("en"); ok {
				return name
			}
			return li.Name[keys[0]]
		}
	}
	if li.ProductKey != "" {
		return li.ProductKey
	}
	return li.ProductID
}

// permyriad converts a fractional tax rate to the provider's integer schema,
// e.g. 0.19 becomes 1900.
func permyriad(rate float64) int64 {
	return int64(math.Round(rate * 10000))
}

// netFromGross derives the net amount from a tax-inclusive gross amount. Half
// values round away from zero; the same direction everywhere keeps cross-line
// totals from drifting.
func netFromGross(gross int64, rate domain.TaxRate) int64 {
	if !rate.IncludedInPrice {
		return gross
	}
	return int64(math.Round(float64(gross) / (1 + rate.Amount)))
}
