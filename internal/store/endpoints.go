package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Product is a single catalog search result.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Brand       string  `json:"brand"`
	Size        string  `json:"size"`
	PriceCents  int64   `json:"price_cents"`
	InStock     bool    `json:"in_stock"`
	Description string  `json:"description,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// SearchProducts queries the catalog for tires matching a free-text query.
func (c *Client) SearchProducts(ctx context.Context, query string, size string) ([]Product, error) {
	var result struct {
		Products []Product `json:"products"`
	}
	q := url.Values{}
	q.Set("q", query)
	if size != "" {
		q.Set("size", size)
	}
	spec := requestSpec{
		Method: http.MethodGet,
		Path:   "/products/search?" + q.Encode(),
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return result.Products, nil
}

// Availability is the stock status for a single product ID.
type Availability struct {
	ProductID string `json:"product_id"`
	InStock   bool   `json:"in_stock"`
	Quantity  int    `json:"quantity"`
	ETA       string `json:"eta,omitempty"`
}

// TireAvailability looks up stock for a specific product. A 404 response is
// a normal "not found" outcome (per spec §4.6) and is returned as
// [ErrNotFound], not a generic failure.
func (c *Client) TireAvailability(ctx context.Context, productID string) (*Availability, error) {
	var result Availability
	spec := requestSpec{
		Method:           http.MethodGet,
		Path:             fmt.Sprintf("/tires/%s/availability", url.PathEscape(productID)),
		NotFoundIsNormal: true,
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OrderDraft is the request body for creating an order.
type OrderDraft struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	CustomerID string `json:"customer_id,omitempty"`
}

// Order is the backing store's representation of an order.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateOrder drafts a new order. This is a mutating endpoint and requires an
// idempotency key minted once by the calling tool handler.
func (c *Client) CreateOrder(ctx context.Context, draft OrderDraft, idempotencyKey string) (*Order, error) {
	var result Order
	spec := requestSpec{
		Method:         http.MethodPost,
		Path:           "/orders",
		Body:           draft,
		IdempotencyKey: idempotencyKey,
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfirmOrder finalizes a draft order. Mutating; requires an idempotency key.
func (c *Client) ConfirmOrder(ctx context.Context, orderID, idempotencyKey string) (*Order, error) {
	var result Order
	spec := requestSpec{
		Method:         http.MethodPost,
		Path:           fmt.Sprintf("/orders/%s/confirm", url.PathEscape(orderID)),
		IdempotencyKey: idempotencyKey,
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeliverySlot is the request body for scheduling delivery of a confirmed order.
type DeliverySlot struct {
	Address string `json:"address"`
	Date    string `json:"date"`
}

// ScheduleDelivery arranges delivery for a confirmed order. Not one of the
// three idempotency-keyed mutations named in spec §4.6 (it is the delivery
// leg of an already-confirmed order, not first-write order/booking creation).
func (c *Client) ScheduleDelivery(ctx context.Context, orderID string, slot DeliverySlot) (*Order, error) {
	var result Order
	spec := requestSpec{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/orders/%s/delivery", url.PathEscape(orderID)),
		Body:   slot,
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FittingStation is a service bay that can perform tire fitting.
type FittingStation struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ListFittingStations lists service bays near a location.
func (c *Client) ListFittingStations(ctx context.Context, postalCode string) ([]FittingStation, error) {
	var result struct {
		Stations []FittingStation `json:"stations"`
	}
	q := url.Values{}
	q.Set("postal_code", postalCode)
	spec := requestSpec{
		Method: http.MethodGet,
		Path:   "/fitting/stations?" + q.Encode(),
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return result.Stations, nil
}

// FittingSlot is an open appointment slot at a station.
type FittingSlot struct {
	StationID string `json:"station_id"`
	StartsAt  string `json:"starts_at"`
}

// ListFittingSlots lists open appointment slots at a station.
func (c *Client) ListFittingSlots(ctx context.Context, stationID string, date string) ([]FittingSlot, error) {
	var result struct {
		Slots []FittingSlot `json:"slots"`
	}
	q := url.Values{}
	q.Set("station_id", stationID)
	if date != "" {
		q.Set("date", date)
	}
	spec := requestSpec{
		Method: http.MethodGet,
		Path:   "/fitting/slots?" + q.Encode(),
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return result.Slots, nil
}

// BookingRequest is the request body for booking a fitting appointment.
type BookingRequest struct {
	StationID  string `json:"station_id"`
	StartsAt   string `json:"starts_at"`
	ProductID  string `json:"product_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// Booking is the backing store's representation of a fitting appointment.
type Booking struct {
	ID        string `json:"id"`
	StationID string `json:"station_id"`
	StartsAt  string `json:"starts_at"`
	Status    string `json:"status"`
}

// BookFitting reserves a fitting appointment slot. Mutating; requires an
// idempotency key.
func (c *Client) BookFitting(ctx context.Context, req BookingRequest, idempotencyKey string) (*Booking, error) {
	var result Booking
	spec := requestSpec{
		Method:         http.MethodPost,
		Path:           "/fitting/bookings",
		Body:           req,
		IdempotencyKey: idempotencyKey,
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelFitting cancels an existing booking.
func (c *Client) CancelFitting(ctx context.Context, bookingID string) error {
	spec := requestSpec{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/fitting/bookings/%s/cancel", url.PathEscape(bookingID)),
	}
	return c.do(ctx, spec, nil)
}

// RescheduleFitting moves an existing booking to a new slot.
func (c *Client) RescheduleFitting(ctx context.Context, bookingID, newStartsAt string) (*Booking, error) {
	var result Booking
	spec := requestSpec{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/fitting/bookings/%s/reschedule", url.PathEscape(bookingID)),
		Body:   map[string]string{"starts_at": newStartsAt},
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FittingPrice is the quoted price for a fitting service.
type FittingPrice struct {
	ProductID  string `json:"product_id"`
	PriceCents int64  `json:"price_cents"`
}

// FittingPrice quotes the fitting price for a product.
func (c *Client) FittingPrice(ctx context.Context, productID string) (*FittingPrice, error) {
	var result FittingPrice
	q := url.Values{}
	q.Set("product_id", productID)
	spec := requestSpec{
		Method: http.MethodGet,
		Path:   "/fitting/price?" + q.Encode(),
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// KnowledgeArticle is a single knowledge-base search result.
type KnowledgeArticle struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url,omitempty"`
}

// SearchKnowledge looks up knowledge-base articles matching a free-text query.
func (c *Client) SearchKnowledge(ctx context.Context, query string) ([]KnowledgeArticle, error) {
	var result struct {
		Articles []KnowledgeArticle `json:"articles"`
	}
	q := url.Values{}
	q.Set("q", query)
	spec := requestSpec{
		Method: http.MethodGet,
		Path:   "/knowledge/search?" + q.Encode(),
	}
	if err := c.do(ctx, spec, &result); err != nil {
		return nil, err
	}
	return result.Articles, nil
}
