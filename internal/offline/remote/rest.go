package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

const restDevotionalsPath = "/rest/v1/devotionals"

// RESTConfig configures the PostgREST gateway client.
type RESTConfig struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// REST writes devotionals through a Supabase project's PostgREST gateway.
type REST struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
}

// NewREST returns a gateway client. When HTTPClient is nil a client with
// cfg.Timeout is created.
func NewREST(cfg RESTConfig) (*REST, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("remote: rest base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("remote: rest api key is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	token := cfg.AccessToken
	if token == "" {
		token = cfg.APIKey
	}
	return &REST{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		token:      token,
		httpClient: client,
	}, nil
}

// Ping selects at most one id from the devotionals table.
func (c *REST) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, restDevotionalsPath+"?select=id&limit=1", nil, nil, nil)
}

// InsertDevotional posts row and returns the created representation.
func (c *REST) InsertDevotional(ctx context.Context, row schema.Row) (schema.Record, error) {
	var created []schema.Record
	headers := map[string]string{"Prefer": "return=representation"}
	if err := c.doJSON(ctx, http.MethodPost, restDevotionalsPath, headers, row, &created); err != nil {
		return schema.Record{}, err
	}
	if len(created) == 0 {
		return schema.Record{}, fmt.Errorf("remote: insert returned no rows")
	}
	return created[0], nil
}

func (c *REST) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *REST) doJSON(
	ctx context.Context,
	method, requestPath string,
	headers map[string]string,
	body any,
	out any,
) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}

	return decodeHTTPError(resp.StatusCode, payload)
}

func decodeHTTPError(status int, payload []byte) *HTTPError {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	httpErr := &HTTPError{StatusCode: status}
	if err := json.Unmarshal(payload, &body); err == nil {
		httpErr.Code = body.Code
		httpErr.Message = body.Message
		if httpErr.Message == "" {
			httpErr.Message = body.Error
		}
	}
	if httpErr.Message == "" {
		httpErr.Message = strings.TrimSpace(string(payload))
	}
	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(status)
	}
	return httpErr
}
