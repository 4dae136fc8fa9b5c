package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:5000/api"

// Client provides typed access to the places API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL, including
// its path prefix (for example http://localhost:5000/api).
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Session is returned by signup and login.
type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// User reflects API user payloads.
type User struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Image  string   `json:"image"`
	Places []string `json:"places"`
}

// Place reflects API place payloads.
type Place struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Image       string    `json:"image"`
	Creator     string    `json:"creator"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Image is an upload attached to signup or place creation.
type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// SignupInput carries the fields of a new account.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Image    Image
}

// CreatePlaceInput carries the fields of a new place.
type CreatePlaceInput struct {
	Title       string
	Description string
	Address     string
	Image       Image
}

// UpdatePlaceInput lists the fields to change. Nil fields are left alone.
type UpdatePlaceInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Signup registers an account.
func (c *Client) Signup(ctx context.Context, input SignupInput) (Session, error) {
	var session Session
	fields := map[string]string{"name": input.Name, "email": input.Email, "password": input.Password}
	err := c.doMultipart(ctx, http.MethodPost, "/users/signup", fields, input.Image, "", &session)
	return session, err
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/users/login", body, "", &session)
	return session, err
}

// ListUsers returns every registered user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var payload struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Users, nil
}

// ListPlacesByUser returns the places created by userID.
func (c *Client) ListPlacesByUser(ctx context.Context, userID string) ([]Place, error) {
	var payload struct {
		Places []Place `json:"places"`
	}
	if err := c.do(ctx, http.MethodGet, "/places/user/"+url.PathEscape(userID), nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Places, nil
}

// GetPlace fetches a single place.
func (c *Client) GetPlace(ctx context.Context, placeID string) (Place, error) {
	var payload struct {
		Place Place `json:"place"`
	}
	err := c.do(ctx, http.MethodGet, "/places/"+url.PathEscape(placeID), nil, "", &payload)
	return payload.Place, err
}

// CreatePlace stores a new place owned by the token's user.
func (c *Client) CreatePlace(ctx context.Context, token string, input CreatePlaceInput) (Place, error) {
	var payload struct {
		Place Place `json:"place"`
	}
	fields := map[string]string{"title": input.Title, "description": input.Description, "address": input.Address}
	err := c.doMultipart(ctx, http.MethodPost, "/places", fields, input.Image, token, &payload)
	return payload.Place, err
}

// UpdatePlace changes the title and/or description of a place.
func (c *Client) UpdatePlace(ctx context.Context, token, placeID string, input UpdatePlaceInput) (Place, error) {
	var payload struct {
		Place Place `json:"place"`
	}
	err := c.do(ctx, http.MethodPatch, "/places/"+url.PathEscape(placeID), input, token, &payload)
	return payload.Place, err
}

// DeletePlace removes a place.
func (c *Client) DeletePlace(ctx context.Context, token, placeID string) error {
	return c.do(ctx, http.MethodDelete, "/places/"+url.PathEscape(placeID), nil, token, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, contentType, token, v)
}

func (c *Client) doMultipart(ctx context.Context, method, path string, fields map[string]string, image Image, token string, v any) error {
	if image.Body == nil {
		return fmt.Errorf("an image is required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return fmt.Errorf("encode field %s: %w", key, err)
		}
	}
	filename := image.Filename
	if filename == "" {
		filename = "image"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", image.ContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create image part: %w", err)
	}
	if _, err := io.Copy(part, image.Body); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finish multipart body: %w", err)
	}
	return c.send(ctx, method, path, &buf, mw.FormDataContentType(), token, v)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Message)
}
