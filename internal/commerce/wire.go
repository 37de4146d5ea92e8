package commerce

import (
	"github.com/briq-connect/api/internal/domain"
)

// Wire representations of the platform resources the connector reads. Only the
// fields the connector consumes are decoded; everything else is ignored.

type wireMoney struct {
	CurrencyCode string `json:"currencyCode"`
	CentAmount   int64  `json:"centAmount"`
}

func (m wireMoney) toDomain() domain.Money {
	return domain.Money{CurrencyCode: m.CurrencyCode, CentAmount: m.CentAmount}
}

func moneyToWire(m domain.Money) map[string]any {
	return map[string]any{"currencyCode": m.CurrencyCode, "centAmount": m.CentAmount}
}

type wireTaxedPrice struct {
	TotalNet   wireMoney `json:"totalNet"`
	TotalGross wireMoney `json:"totalGross"`
	TotalTax   wireMoney `json:"totalTax"`
}

func (tp *wireTaxedPrice) toDomain() *domain.TaxedPrice {
	if tp == nil {
		return nil
	}
	return &domain.TaxedPrice{
		TotalNet:   tp.TotalNet.toDomain(),
		TotalGross: tp.TotalGross.toDomain(),
		TotalTax:   tp.TotalTax.toDomain(),
	}
}

type wireTaxRate struct {
	Name            string  `json:"name"`
	Amount          float64 `json:"amount"`
	Country         string  `json:"country"`
	State           string  `json:"state"`
	IncludedInPrice bool    `json:"includedInPrice"`
}

func (tr wireTaxRate) toDomain() domain.TaxRate {
	return domain.TaxRate{
		Name:            tr.Name,
		Amount:          tr.Amount,
		Country:         tr.Country,
		State:           tr.State,
		IncludedInPrice: tr.IncludedInPrice,
	}
}

type wireReference struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}

type wireDiscountedPrice struct {
	Value             wireMoney `json:"value"`
	IncludedDiscounts []struct {
		Discount         wireReference `json:"discount"`
		DiscountedAmount wireMoney     `json:"discountedAmount"`
	} `json:"includedDiscounts"`
}

func (dp *wireDiscountedPrice) toDomain() *domain.DiscountedLinePrice {
	if dp == nil {
		return nil
	}
	out := &domain.DiscountedLinePrice{Value: dp.Value.toDomain()}
	for _, inc := range dp.IncludedDiscounts {
		out.IncludedDiscounts = append(out.IncludedDiscounts, domain.IncludedDiscount{
			DiscountID:       inc.Discount.ID,
			DiscountedAmount: inc.DiscountedAmount.toDomain(),
		})
	}
	return out
}

type wireLineItem struct {
	ID          string            `json:"id"`
	ProductID   string            `json:"productId"`
	ProductKey  string            `json:"productKey"`
	ProductType wireReference     `json:"productType"`
	Name        map[string]string `json:"name"`
	Quantity    int64             `json:"quantity"`
	Price       struct {
		Value wireMoney `json:"value"`
	} `json:"price"`
	DiscountedPrice            *wireDiscountedPrice `json:"discountedPrice"`
	DiscountedPricePerQuantity []struct {
		Quantity        int64               `json:"quantity"`
		DiscountedPrice wireDiscountedPrice `json:"discountedPrice"`
	} `json:"discountedPricePerQuantity"`
	TotalPrice  wireMoney       `json:"totalPrice"`
	TaxedPrice  *wireTaxedPrice `json:"taxedPrice"`
	TaxRate     *wireTaxRate    `json:"taxRate"`
	TaxCategory *wireReference  `json:"taxCategory"`
	Variant     struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"variant"`
}

func (li wireLineItem) toDomain() domain.LineItem {
	out := domain.LineItem{
		ID:              li.ID,
		ProductID:       li.ProductID,
		ProductKey:      li.ProductKey,
		ProductType:     li.ProductType.Key,
		Name:            li.Name,
		Quantity:        li.Quantity,
		Price:           li.Price.Value.toDomain(),
		DiscountedPrice: li.DiscountedPrice.toDomain(),
		TotalPrice:      li.TotalPrice.toDomain(),
		TaxedPrice:      li.TaxedPrice.toDomain(),
	}
	if li.TaxRate != nil {
		rate := li.TaxRate.toDomain()
		out.TaxRate = &rate
	}
	if li.TaxCategory != nil {
		out.TaxCategoryID = li.TaxCategory.ID
	}
	if len(li.Variant.Images) > 0 {
		out.ImageURL = li.Variant.Images[0].URL
	}
	for _, dpq := range li.DiscountedPricePerQuantity {
		price := dpq.DiscountedPrice
		out.DiscountedPricePerQuantity = append(out.DiscountedPricePerQuantity, domain.DiscountedPricePerQuantity{
			Quantity:        dpq.Quantity,
			DiscountedPrice: *price.toDomain(),
		})
	}
	return out
}

type wireAddress struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Company    string `json:"company"`
	StreetName string `json:"streetName"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

func (a *wireAddress) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Company:    a.Company,
		StreetName: a.StreetName,
		PostalCode: a.PostalCode,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
		Email:      a.Email,
		Phone:      a.Phone,
	}
}

type wireCustomFields struct {
	Type   wireReference  `json:"type"`
	Fields map[string]any `json:"fields"`
}

func (cf *wireCustomFields) toDomain() *domain.CustomFields {
	if cf == nil {
		return nil
	}
	return &domain.CustomFields{
		Type:   domain.TypeReference{ID: cf.Type.ID, Key: cf.Type.Key},
		Fields: cf.Fields,
	}
}

type wireCart struct {
	ID                   string          `json:"id"`
	Version              int64           `json:"version"`
	Locale               string          `json:"locale"`
	CustomerEmail        string          `json:"customerEmail"`
	LineItems            []wireLineItem  `json:"lineItems"`
	TotalPrice           wireMoney       `json:"totalPrice"`
	TaxedPrice           *wireTaxedPrice `json:"taxedPrice"`
	DiscountOnTotalPrice *struct {
		DiscountedAmount wireMoney `json:"discountedAmount"`
		DiscountedNet    wireMoney `json:"discountedNetAmount"`
		DiscountedGross  wireMoney `json:"discountedGrossAmount"`
	} `json:"discountOnTotalPrice"`
	ShippingInfo *struct {
		MethodName      string          `json:"shippingMethodName"`
		Price           wireMoney       `json:"price"`
		DiscountedPrice *struct {
			Value wireMoney `json:"value"`
		} `json:"discountedPrice"`
		TaxRate    *wireTaxRate    `json:"taxRate"`
		TaxedPrice *wireTaxedPrice `json:"taxedPrice"`
	} `json:"shippingInfo"`
	BillingAddress  *wireAddress      `json:"billingAddress"`
	ShippingAddress *wireAddress      `json:"shippingAddress"`
	Custom          *wireCustomFields `json:"custom"`
}

func (c wireCart) toDomain() domain.Cart {
	out := domain.Cart{
		ID:              c.ID,
		Version:         c.Version,
		Locale:          c.Locale,
		CustomerEmail:   c.CustomerEmail,
		TotalPrice:      c.TotalPrice.toDomain(),
		TaxedPrice:      c.TaxedPrice.toDomain(),
		BillingAddress:  c.BillingAddress.toDomain(),
		ShippingAddress: c.ShippingAddress.toDomain(),
		Custom:          c.Custom.toDomain(),
	}
	for _, li := range c.LineItems {
		out.LineItems = append(out.LineItems, li.toDomain())
	}
	if c.DiscountOnTotalPrice != nil {
		out.DiscountOnTotalPrice = &domain.DiscountOnTotalPrice{
			DiscountedAmount: c.DiscountOnTotalPrice.DiscountedAmount.toDomain(),
			DiscountedNet:    c.DiscountOnTotalPrice.DiscountedNet.toDomain(),
			DiscountedGross:  c.DiscountOnTotalPrice.DiscountedGross.toDomain(),
		}
	}
	if c.ShippingInfo != nil {
		info := &domain.ShippingInfo{
			MethodName: c.ShippingInfo.MethodName,
			Price:      c.ShippingInfo.Price.toDomain(),
			TaxedPrice: c.ShippingInfo.TaxedPrice.toDomain(),
		}
		if c.ShippingInfo.DiscountedPrice != nil {
			price := c.ShippingInfo.DiscountedPrice.Value.toDomain()
			info.DiscountedPrice = &price
		}
		if c.ShippingInfo.TaxRate != nil {
			rate := c.ShippingInfo.TaxRate.toDomain()
			info.TaxRate = &rate
		}
		out.ShippingInfo = info
	}
	return out
}

type wireTransaction struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	State         string    `json:"state"`
	Amount        wireMoney `json:"amount"`
	InteractionID string    `json:"interactionId"`
}

type wirePayment struct {
	ID                string    `json:"id"`
	Version           int64     `json:"version"`
	AmountPlanned     wireMoney `json:"amountPlanned"`
	InterfaceID       string    `json:"interfaceId"`
	PaymentMethodInfo struct {
		Method string `json:"method"`
	} `json:"paymentMethodInfo"`
	PaymentStatus struct {
		InterfaceText string `json:"interfaceText"`
	} `json:"paymentStatus"`
	Transactions []wireTransaction `json:"transactions"`
	Custom       *wireCustomFields `json:"custom"`
}

func (p wirePayment) toDomain() domain.Payment {
	out := domain.Payment{
		ID:            p.ID,
		Version:       p.Version,
		AmountPlanned: p.AmountPlanned.toDomain(),
		PaymentMethod: p.PaymentMethodInfo.Method,
		InterfaceID:   p.InterfaceID,
		InterfaceText: p.PaymentStatus.InterfaceText,
		Custom:        p.Custom.toDomain(),
	}
	for _, tx := range p.Transactions {
		out.Transactions = append(out.Transactions, domain.Transaction{
			ID:            tx.ID,
			Type:          domain.TransactionType(tx.Type),
			State:         domain.TransactionState(tx.State),
			Amount:        tx.Amount.toDomain(),
			InteractionID: tx.InteractionID,
		})
	}
	return out
}

func transactionDraftToWire(draft domain.TransactionDraft) map[string]any {
	wire := map[string]any{
		"type":   string(draft.Type),
		"state":  string(draft.State),
		"amount": moneyToWire(draft.Amount),
	}
	if draft.InteractionID != "" {
		wire["interactionId"] = draft.InteractionID
	}
	return wire
}
