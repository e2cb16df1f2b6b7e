package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider - интерфейс платёжного коллаборатора. Все операции идемпотентны
// по переданному вызывающей стороной ключу: повтор с тем же ключом не
// приводит к повторному движению средств.
type Provider interface {
	Capture(ctx context.Context, token string, amount int64, idempotencyKey string) (holdID string, err error)
	Release(ctx context.Context, holdID string, amount int64, idempotencyKey string) (receiptID string, err error)
	Refund(ctx context.Context, holdID string, amount int64, idempotencyKey string) (receiptID string, err error)
}

// Client реализует Provider поверх JSON HTTP API провайдера.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиента платёжного провайдера.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type captureRequest struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

type captureResponse struct {
	HoldID string `json:"hold_id"`
}

type moveRequest struct {
	HoldID string `json:"hold_id"`
	Amount int64  `json:"amount"`
}

type moveResponse struct {
	ReceiptID string `json:"receipt_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Capture удерживает средства с платёжного токена и возвращает hold_id.
func (c *Client) Capture(ctx context.Context, token string, amount int64, idempotencyKey string) (string, error) {
	var resp captureResponse
	err := c.post(ctx, "/v1/holds", captureRequest{Token: token, Amount: amount}, idempotencyKey, &resp)
	if err != nil {
		return "", err
	}
	return resp.HoldID, nil
}

// Release выплачивает часть удержанных средств получателю.
func (c *Client) Release(ctx context.Context, holdID string, amount int64, idempotencyKey string) (string, error) {
	var resp moveResponse
	err := c.post(ctx, "/v1/releases", moveRequest{HoldID: holdID, Amount: amount}, idempotencyKey, &resp)
	if err != nil {
		return "", err
	}
	return resp.ReceiptID, nil
}

// Refund возвращает часть удержанных средств плательщику.
func (c *Client) Refund(ctx context.Context, holdID string, amount int64, idempotencyKey string) (string, error) {
	var resp moveResponse
	err := c.post(ctx, "/v1/refunds", moveRequest{HoldID: holdID, Amount: amount}, idempotencyKey, &resp)
	if err != nil {
		return "", err
	}
	return resp.ReceiptID, nil
}

func (c *Client) post(ctx context.Context, path string, body any, idempotencyKey string, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("payment: не удалось сериализовать запрос: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("payment: не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment: запрос %s не выполнен: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payment: не удалось прочитать ответ %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if json.Unmarshal(payload, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("payment: провайдер вернул %d на %s: %s", resp.StatusCode, path, errResp.Error)
		}
		return fmt.Errorf("payment: провайдер вернул %d на %s", resp.StatusCode, path)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("payment: не удалось разобрать ответ %s: %w", path, err)
	}
	return nil
}
