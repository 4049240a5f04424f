package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"staybroker/internal/apperr"
	"staybroker/internal/util"

	"go.uber.org/zap"
)

// APIRoot is the versioned root every PMS resource lives under.
const APIRoot = "/api/v2"

// Response is a raw PMS response
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is the authenticated HTTP client for the PMS REST API. Every call
// attaches a bearer token from the broker; a single 401 triggers one
// invalidate-and-retry, a second 401 surfaces as an auth error.
type Client struct {
	baseURL    string
	broker     *TokenBroker
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new PMS client
func NewClient(baseURL string, broker *TokenBroker, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		broker:     broker,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// Do executes an authenticated request against the PMS. The retry on 401 is
// a bounded loop: at most two attempts, one invalidate.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte) (*Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.broker.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		util.PMSRequestLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			util.PMSRequestsTotal.WithLabelValues(method, "error").Inc()
			return nil, fmt.Errorf("%s %s: %w: %v", method, path, apperr.ErrDownstreamUnavailable, err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
		}

		util.PMSRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.broker.Invalidate()
			if attempt == 0 {
				c.logger.Warn("PMS returned 401, retrying with fresh token",
					zap.String("method", method), zap.String("path", path))
				continue
			}
			return nil, fmt.Errorf("%s %s rejected after token refresh: %w", method, path, apperr.ErrAuth)
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%s %s: %w", method, path, apperr.ErrRateLimited)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%s %s returned %d: %w", method, path, resp.StatusCode, apperr.ErrDownstreamUnavailable)
		}

		return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
	}

	// Unreachable, the loop always returns.
	return nil, fmt.Errorf("%s %s: %w", method, path, apperr.ErrAuth)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s: %w", path, apperr.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}
	return json.Unmarshal(resp.Body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Body, out)
}

// Property is a PMS property resource
type Property struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Timezone string `json:"timezone"`
}

// Room is a PMS room resource
type Room struct {
	ID         string `json:"id"`
	PropertyID string `json:"propertyId"`
	Name       string `json:"name"`
	MaxGuests  int    `json:"maxGuests"`
}

// CalendarDay is one day of a property's inventory calendar
type CalendarDay struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
	Price     int64  `json:"price"`
}

// BookingRequest is the payload for creating a PMS booking
type BookingRequest struct {
	PropertyID string `json:"propertyId"`
	GuestName  string `json:"guestName"`
	GuestEmail string `json:"guestEmail"`
	Guests     int    `json:"guests"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	LocalRef   string `json:"localRef"`
}

// BookingResult is the PMS acknowledgement of a booking mutation
type BookingResult struct {
	BookingRef string `json:"bookingRef"`
	Status     string `json:"status"`
}

// Message is a PMS guest message
type Message struct {
	ID         string    `json:"id"`
	BookingRef string    `json:"bookingRef"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
}

// GetProperty retrieves a property
func (c *Client) GetProperty(ctx context.Context, id string) (*Property, error) {
	var p Property
	if err := c.getJSON(ctx, APIRoot+"/properties/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListRooms retrieves the rooms of a property
func (c *Client) ListRooms(ctx context.Context, propertyID string) ([]Room, error) {
	var rooms []Room
	err := c.getJSON(ctx, APIRoot+"/properties/"+propertyID+"/rooms", nil, &rooms)
	return rooms, err
}

// GetCalendar retrieves a property's inventory calendar for a date range
func (c *Client) GetCalendar(ctx context.Context, propertyID, from, to string) ([]CalendarDay, error) {
	query := url.Values{}
	query.Set("from", from)
	query.Set("to", to)

	var days []CalendarDay
	err := c.getJSON(ctx, APIRoot+"/properties/"+propertyID+"/calendar", query, &days)
	return days, err
}

// CreateBooking pushes a booking to the PMS
func (c *Client) CreateBooking(ctx context.Context, req *BookingRequest) (*BookingResult, error) {
	var result BookingResult
	if err := c.postJSON(ctx, APIRoot+"/bookings", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelBooking cancels a PMS booking
func (c *Client) CancelBooking(ctx context.Context, bookingRef, reason string) error {
	payload := map[string]string{"reason": reason}
	return c.postJSON(ctx, APIRoot+"/bookings/"+bookingRef+"/cancel", payload, nil)
}

// ListGuestMessages retrieves messages on a booking
func (c *Client) ListGuestMessages(ctx context.Context, bookingRef string) ([]Message, error) {
	var msgs []Message
	err := c.getJSON(ctx, APIRoot+"/bookings/"+bookingRef+"/messages", nil, &msgs)
	return msgs, err
}

// SendGuestMessage posts a message to a booking's guest thread
func (c *Client) SendGuestMessage(ctx context.Context, bookingRef, body string) error {
	payload := map[string]string{"body": body}
	return c.postJSON(ctx, APIRoot+"/bookings/"+bookingRef+"/messages", payload, nil)
}
