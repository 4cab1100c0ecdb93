package hosted

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gatescan/internal/domain/capture"
)

// Client calls a hosted OCR web service (ocr.space-compatible API): the frame
// goes up as a base64 form field, the parsed text comes back as JSON.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = "https://api.ocr.space/parse/image"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"` // string or []string
}

func (c *Client) Recognize(ctx context.Context, frame *capture.Frame) (string, error) {
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	form := url.Values{}
	form.Set("base64Image", fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(frame.Data)))
	form.Set("scale", "true")
	form.Set("OCREngine", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr service returned status %d", resp.StatusCode)
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding ocr response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr processing failed: %s", string(parsed.ErrorMessage))
	}

	var b strings.Builder
	for _, r := range parsed.ParsedResults {
		b.WriteString(r.ParsedText)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
