package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/site-audit/internal/api/dto"
)

// apiClient talks to the audit API service
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx answer from the API
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

func (c *apiClient) submit(ctx context.Context, target string) (dto.CreateAuditResponse, error) {
	var out dto.CreateAuditResponse
	body, err := json.Marshal(dto.CreateAuditRequest{URL: target})
	if err != nil {
		return out, fmt.Errorf("failed to encode request: %w", err)
	}
	err = c.do(ctx, http.MethodPost, "/api/v1/audits", bytes.NewReader(body), &out)
	return out, err
}

func (c *apiClient) get(ctx context.Context, id string) (dto.AuditDTO, error) {
	var out dto.AuditDTO
	err := c.do(ctx, http.MethodGet, "/api/v1/audits/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *apiClient) recent(ctx context.Context, limit int, cursor string) (dto.ListAuditsResponse, error) {
	var out dto.ListAuditsResponse
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/api/v1/audits/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		return &apiError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
