// Package client реализует клиентский менеджер синхронизации:
// отслеживание загруженных чанков и региональных подписок, пакетирование
// правок с debounce, durable-очередь на время обрывов связи и применение
// входящих broadcast'ов с разрешением конфликтов.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/voxel-world/internal/protocol"
)

// Transport — сетевые операции клиента против сервера мира.
// Выделен в интерфейс, чтобы тесты подставляли фальшивый транспорт
// с управляемыми отказами.
type Transport interface {
	Connect(ctx context.Context, req *protocol.ConnectRequest) (*protocol.ConnectResponse, error)
	Disconnect(ctx context.Context, req *protocol.DisconnectRequest) error
	SendPosition(ctx context.Context, req *protocol.PositionRequest) error
	SendModifications(ctx context.Context, req *protocol.ModificationsRequest) (*protocol.ModificationsResponse, error)
	RequestChunks(ctx context.Context, req *protocol.ChunksRequest) (*protocol.ChunksResponse, error)
}

// HTTPTransport — транспорт поверх REST API сервера.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport создаёт транспорт для указанного адреса сервера.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *HTTPTransport) post(ctx context.Context, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s вернул статус %d", path, httpResp.StatusCode)
	}
	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	return nil
}

func (t *HTTPTransport) Connect(ctx context.Context, req *protocol.ConnectRequest) (*protocol.ConnectResponse, error) {
	var resp protocol.ConnectResponse
	if err := t.post(ctx, "/api/connect", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Disconnect(ctx context.Context, req *protocol.DisconnectRequest) error {
	return t.post(ctx, "/api/disconnect", req, nil)
}

func (t *HTTPTransport) SendPosition(ctx context.Context, req *protocol.PositionRequest) error {
	return t.post(ctx, "/api/position", req, nil)
}

func (t *HTTPTransport) SendModifications(ctx context.Context, req *protocol.ModificationsRequest) (*protocol.ModificationsResponse, error) {
	var resp protocol.ModificationsResponse
	if err := t.post(ctx, "/api/modifications", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) RequestChunks(ctx context.Context, req *protocol.ChunksRequest) (*protocol.ChunksResponse, error) {
	var resp protocol.ChunksResponse
	if err := t.post(ctx, "/api/chunks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
