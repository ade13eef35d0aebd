package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// apiClient: минимальный клиент JSON API skyshop для генерации нагрузки.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	col     *collector
}

type orderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	BuyerEmail string      `json:"buyerEmail"`
	SeatLetter string      `json:"seatLetter"`
	SeatNumber int         `json:"seatNumber"`
	Items      []orderItem `json:"items"`
}

type orderResponse struct {
	ID            string `json:"id"`
	TotalPrice    string `json:"totalPrice"`
	PaymentStatus string `json:"paymentStatus"`
}

type productResponse struct {
	ID string `json:"id"`
}

func newAPIClient(baseURL string, timeout time.Duration, concurrency int, col *collector) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = concurrency * 2
	transport.MaxIdleConnsPerHost = concurrency * 2

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
		timeout: timeout,
		col:     col,
	}
}

// do выполняет запрос, записывает статистику под именем method и декодирует тело в out.
func (c *apiClient) do(method, name, path string, body, out any, wantStatus int) (int, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encode request")
		}
		payload = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(name, time.Since(start), statusCode(0), false)
		return 0, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	ok := resp.StatusCode == wantStatus && readErr == nil
	c.col.record(name, time.Since(start), statusCode(resp.StatusCode), ok)

	if readErr != nil {
		return resp.StatusCode, errors.Wrap(readErr, "read response")
	}
	if resp.StatusCode != wantStatus {
		return resp.StatusCode, errors.Newf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decode response")
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) createProduct(name, price string) (string, error) {
	var product productResponse
	_, err := c.do(http.MethodPost, "CreateProduct", "/api/products",
		map[string]any{"name": name, "price": price}, &product, http.StatusCreated)
	return product.ID, err
}

func (c *apiClient) createOrder(req orderRequest) (orderResponse, error) {
	var order orderResponse
	_, err := c.do(http.MethodPost, "CreateOrder", "/api/orders", req, &order, http.StatusCreated)
	return order, err
}

// payOrder возвращает HTTP-статус. В режиме double-pay 400 на повторную оплату ожидаем.
func (c *apiClient) payOrder(orderID, cardToken string) (int, error) {
	path := "/api/orders/" + url.PathEscape(orderID) + "/payment?cardToken=" + url.QueryEscape(cardToken)
	return c.do(http.MethodPost, "PayOrder", path, nil, nil, http.StatusOK)
}
