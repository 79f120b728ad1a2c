package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notice is the payload the pickup notification service expects.
type Notice struct {
	ClientID        int64     `json:"clientId"`
	ClientEmail     string    `json:"clientEmail"`
	ClientFirstName string    `json:"clientFirstName"`
	ClientLastName  string    `json:"clientLastName"`
	ClientName      string    `json:"clientName"`
	KeyID           int64     `json:"keyId"`
	MachineID       string    `json:"machineId"`
	RoomNo          string    `json:"roomNo"`
	CheckIn         time.Time `json:"checkIn"`
	CheckOut        time.Time `json:"checkOut"`
	UID             string    `json:"UID"`
	SlotNumber      *int      `json:"slot_number"`
}

type notifyResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Notifier delivers a pickup notice.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// HTTPNotifier posts notices to the notification service.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier creates an HTTPNotifier.
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *HTTPNotifier) Notify(ctx context.Context, notice Notice) error {
	if n.url == "" {
		return fmt.Errorf("notifier url is not configured")
	}

	jsonBody, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var nr notifyResponse
	decodeErr := json.Unmarshal(body, &nr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && nr.Error != "" {
			return fmt.Errorf("notifier returned %d: %s", resp.StatusCode, nr.Error)
		}
		return fmt.Errorf("notifier returned %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to unmarshal notifier response: %w", decodeErr)
	}
	if !nr.Success {
		return fmt.Errorf("notifier reported failure: %s", nr.Error)
	}
	return nil
}
