package handlers

import (
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

type sessionResponse struct {
	ID             string             `json:"id"`
	ShopperID      string             `json:"shopperId"`
	Step           int                `json:"step"`
	CompletedSteps []int              `json:"completedSteps"`
	Cart           []cartLineResponse `json:"cart"`
	CartSubtotal   int64              `json:"cartSubtotal"`
	IdentityMode   string             `json:"identityMode"`
	Contact        contactResponse    `json:"contact"`
	DeliveryType   string             `json:"deliveryType,omitempty"`
	Address        addressResponse    `json:"address"`
	AddressLocked  bool               `json:"addressLocked"`
	QuoteState     string             `json:"quoteState"`
	ShippingCost   *int64             `json:"shippingCost,omitempty"`
	QuoteCurrency  string             `json:"quoteCurrency,omitempty"`
	PaymentMethod  string             `json:"paymentMethod,omitempty"`
	Observations   string             `json:"observations,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

type cartLineResponse struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	LineDiscount int64  `json:"lineDiscount,omitempty"`
	ImageRef     string `json:"imageRef,omitempty"`
	Subtotal     int64  `json:"subtotal"`
}

type contactResponse struct {
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Guest    bool   `json:"guest"`
}

type addressResponse struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	City         string `json:"city,omitempty"`
	Province     string `json:"province,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	Floor        string `json:"floor,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CandidateRef string `json:"candidateRef,omitempty"`
}

func sessionResponseFrom(session domain.CheckoutSession) sessionResponse {
	completed := make([]int, 0, len(session.CompletedSteps))
	for step := domain.StepCart; step <= domain.LastStep; step++ {
		if session.StepCompleted(step) {
			completed = append(completed, int(step))
		}
	}

	cart := make([]cartLineResponse, 0, len(session.Cart))
	for _, line := range session.Cart {
		cart = append(cart, cartLineResponse{
			ProductID:    line.ProductID,
			Name:         line.Name,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			LineDiscount: line.LineDiscount,
			ImageRef:     line.ImageRef,
			Subtotal:     line.Subtotal(),
		})
	}

	return sessionResponse{
		ID:             session.ID,
		ShopperID:      session.ShopperID,
		Step:           int(session.Step),
		CompletedSteps: completed,
		Cart:           cart,
		CartSubtotal:   session.CartSubtotal(),
		IdentityMode:   string(session.IdentityMode),
		Contact: contactResponse{
			Email:    session.Contact.Email,
			FullName: session.Contact.FullName,
			Phone:    session.Contact.Phone,
			Guest:    session.Contact.GuestID != "",
		},
		DeliveryType: string(session.DeliveryType),
		Address: addressResponse{
			Street:       session.Address.Street,
			Number:       session.Address.Number,
			City:         session.Address.City,
			Province:     session.Address.Province,
			PostalCode:   session.Address.PostalCode,
			Floor:        session.Address.Floor,
			Notes:        session.Address.Notes,
			CandidateRef: session.Address.CandidateRef,
		},
		AddressLocked: session.AddressLocked,
		QuoteState:    string(session.QuoteState),
		ShippingCost:  session.ShippingCost,
		QuoteCurrency: session.QuoteCurrency,
		PaymentMethod: session.PaymentMethod,
		Observations:  session.Observations,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
	}
}
