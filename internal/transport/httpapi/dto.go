package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/skyshop/internal/service/order"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	BuyerEmail string             `json:"buyerEmail"`
	SeatLetter string             `json:"seatLetter"`
	SeatNumber int                `json:"seatNumber"`
	Items      []orderItemRequest `json:"items"`
}

func (r orderRequest) toInput() order.Input {
	items := make([]order.ItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, order.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return order.Input{
		BuyerEmail: r.BuyerEmail,
		SeatLetter: r.SeatLetter,
		SeatNumber: r.SeatNumber,
		Items:      items,
	}
}

type orderItemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	BuyerEmail     string              `json:"buyerEmail"`
	SeatLetter     string              `json:"seatLetter"`
	SeatNumber     int                 `json:"seatNumber"`
	Items          []orderItemResponse `json:"items"`
	TotalPrice     string              `json:"totalPrice"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"paymentStatus"`
	PaymentGateway string              `json:"paymentGateway,omitempty"`
	CardToken      string              `json:"cardToken,omitempty"`
	PaymentDate    *time.Time          `json:"paymentDate"`
	Version        int64               `json:"version"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: money(item.UnitPrice),
		})
	}
	return orderResponse{
		ID:             o.ID,
		BuyerEmail:     o.BuyerEmail,
		SeatLetter:     o.SeatLetter,
		SeatNumber:     o.SeatNumber,
		Items:          items,
		TotalPrice:     money(o.TotalPrice),
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		PaymentGateway: o.PaymentGateway,
		CardToken:      o.CardToken,
		PaymentDate:    o.PaymentDate,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type productRequest struct {
	Name       string           `json:"name"`
	Price      *decimal.Decimal `json:"price"`
	ImageURL   string           `json:"imageUrl"`
	CategoryID string           `json:"categoryId"`
}

func (r productRequest) toInput() catalog.ProductInput {
	// Отсутствующая цена отклоняется сервисом как отрицательная.
	price := decimal.NewFromInt(-1)
	if r.Price != nil {
		price = *r.Price
	}
	return catalog.ProductInput{
		Name:       r.Name,
		Price:      price,
		ImageURL:   r.ImageURL,
		CategoryID: r.CategoryID,
	}
}

type productResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	CategoryID string    `json:"categoryId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:         p.ID,
		Name:       p.Name,
		Price:      money(p.Price),
		ImageURL:   p.ImageURL,
		CategoryID: p.CategoryID,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
}

func (r categoryRequest) toInput() catalog.CategoryInput {
	return catalog.CategoryInput{Name: r.Name, Description: r.Description, ParentID: r.ParentID}
}

type categoryResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newCategoryResponse(c domain.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		ParentID:    c.ParentID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyScale)
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}
