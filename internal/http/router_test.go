package httpx

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/splax/placeshare/internal/media"
	"github.com/splax/placeshare/internal/repository/memory"
	"github.com/splax/placeshare/internal/service/auth"
	"github.com/splax/placeshare/internal/service/place"
	"github.com/splax/placeshare/internal/service/user"
	"github.com/splax/placeshare/internal/ws"
	"github.com/splax/placeshare/pkg/logger"
)

const testSecret = "router-test-secret"

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

type testEnv struct {
	router *Router
	store  *memory.Store
	media  *media.Store
	creds  auth.Credentials
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()
	store := memory.New()
	mediaStore, err := media.New(filepath.Join(t.TempDir(), "uploads", "images"), 500000, log)
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	hub := ws.NewHub(log)
	t.Cleanup(hub.Close)

	creds := auth.NewCredentials(testSecret, time.Hour, bcrypt.MinCost)
	authSvc := auth.New(store, creds, log)
	userSvc := user.New(store, log)
	placeSvc := place.New(store, store, store, mediaStore, hub, log)

	router := NewRouter(log, Options{
		BasePath:          "/api",
		CORSAllowedOrigin: "*",
		UploadMaxBytes:    500000,
		Registry:          prometheus.NewRegistry(),
	}, authSvc, userSvc, placeSvc, mediaStore, hub, newMemoryRateLimiter(time.Now), store.Ping)
	t.Cleanup(router.Close)
	return &testEnv{router: router, store: store, media: mediaStore, creds: creds}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, image []byte, contentType string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if image != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="image"; filename="image.png"`)
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target string, payload any, token string) *http.Request {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.StatusCode != status || body.Message == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func (e *testEnv) signup(t *testing.T, name, email string) sessionView {
	t.Helper()
	rr := e.do(multipartRequest(t, http.MethodPost, "/api/users/signup", map[string]string{
		"name":     name,
		"email":    email,
		"password": "secret1",
	}, pngBytes, "image/png"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: status %d: %s", rr.Code, rr.Body.String())
	}
	var session sessionView
	decode(t, rr, &session)
	return session
}

func (e *testEnv) createPlace(t *testing.T, token string) placeView {
	t.Helper()
	req := multipartRequest(t, http.MethodPost, "/api/places", map[string]string{
		"title":       "Empire State Building",
		"description": "One of the most famous sky scrapers",
		"address":     "20 W 34th St, New York, NY 10001",
	}, pngBytes, "image/png")
	req.Header.Set("Authorization", "Bearer "+token)
	rr := e.do(req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create place: status %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Place placeView `json:"place"`
	}
	decode(t, rr, &payload)
	return payload.Place
}

func storedFiles(t *testing.T, e *testEnv) int {
	t.Helper()
	e.media.Wait()
	entries, err := os.ReadDir(e.media.Root())
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	return len(entries)
}

func TestSignupLoginAndUserListing(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "Ada", "Ada@Example.com")
	if session.Email != "ada@example.com" || session.Token == "" || session.UserID == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	rr := env.do(jsonRequest(http.MethodPost, "/api/users/login", map[string]string{"email": "ada@example.com", "password": "secret1"}, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", rr.Code, rr.Body.String())
	}
	var login sessionView
	decode(t, rr, &login)
	if login.UserID != session.UserID {
		t.Fatalf("login returned %s, signup returned %s", login.UserID, session.UserID)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list users: status %d", rr.Code)
	}
	if strings.Contains(strings.ToLower(rr.Body.String()), "password") {
		t.Fatalf("user listing leaks password: %s", rr.Body.String())
	}
	var listing struct {
		Users []map[string]any `json:"users"`
	}
	decode(t, rr, &listing)
	if len(listing.Users) != 1 || listing.Users[0]["id"] != session.UserID {
		t.Fatalf("unexpected users: %+v", listing.Users)
	}
	if places, ok := listing.Users[0]["places"].([]any); !ok || len(places) != 0 {
		t.Fatalf("expected empty places array, got %v", listing.Users[0]["places"])
	}
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ada", "ada@example.com")
	assertError(t, env.do(jsonRequest(http.MethodPost, "/api/users/login", map[string]string{"email": "ada@example.com", "password": "nope-nope"}, "")), http.StatusUnauthorized)
	assertError(t, env.do(jsonRequest(http.MethodPost, "/api/users/login", map[string]string{"email": "ghost@example.com", "password": "secret1"}, "")), http.StatusUnauthorized)
}

func TestJSONBodiesAreSizeCapped(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "Ada", "ada@example.com")
	huge := strings.Repeat("x", maxJSONBodyBytes+1)

	login := env.do(jsonRequest(http.MethodPost, "/api/users/login", map[string]string{"email": "ada@example.com", "password": huge}, ""))
	assertError(t, login, http.StatusRequestEntityTooLarge)

	created := env.createPlace(t, session.Token)
	update := env.do(jsonRequest(http.MethodPatch, "/api/places/"+created.ID, map[string]string{"title": huge}, session.Token))
	assertError(t, update, http.StatusRequestEntityTooLarge)
}

func TestSignupFailureDiscardsUpload(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(multipartRequest(t, http.MethodPost, "/api/users/signup", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "123",
	}, pngBytes, "image/png"))
	assertError(t, rr, http.StatusUnprocessableEntity)
	if n := storedFiles(t, env); n != 0 {
		t.Fatalf("failed signup left %d files behind", n)
	}
}

func TestSignupRejectsOverlongPassword(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(multipartRequest(t, http.MethodPost, "/api/users/signup", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": strings.Repeat("p", 80),
	}, pngBytes, "image/png"))
	assertError(t, rr, http.StatusUnprocessableEntity)
	if n := storedFiles(t, env); n != 0 {
		t.Fatalf("rejected signup left %d files behind", n)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "Ada", "ada@example.com")
	rr := env.do(multipartRequest(t, http.MethodPost, "/api/users/signup", map[string]string{
		"name":     "Ada Again",
		"email":    "ada@example.com",
		"password": "secret1",
	}, pngBytes, "image/png"))
	assertError(t, rr, http.StatusUnprocessableEntity)
	if n := storedFiles(t, env); n != 1 {
		t.Fatalf("expected only the first avatar to remain, found %d", n)
	}
}

func TestSignupRejectsInvalidMime(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(multipartRequest(t, http.MethodPost, "/api/users/signup", map[string]string{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "secret1",
	}, []byte("GIF89a"), "image/gif"))
	assertError(t, rr, http.StatusUnprocessableEntity)
}

func TestCreatePlaceRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	req := multipartRequest(t, http.MethodPost, "/api/places", map[string]string{"title": "x"}, pngBytes, "image/png")
	assertError(t, env.do(req), http.StatusUnauthorized)

	req = multipartRequest(t, http.MethodPost, "/api/places", map[string]string{"title": "x"}, pngBytes, "image/png")
	req.Header.Set("Authorization", "Token abc")
	assertError(t, env.do(req), http.StatusUnauthorized)

	if n := storedFiles(t, env); n != 0 {
		t.Fatalf("unauthenticated request stored %d files", n)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "Ada", "ada@example.com")
	stale := env.creds.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, err := stale.IssueToken(session.UserID, session.Email)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	title := "Renamed"
	rr := env.do(jsonRequest(http.MethodPatch, "/api/places/p1", map[string]*string{"title": &title}, token))
	assertError(t, rr, http.StatusUnauthorized)
}

func TestPlaceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "Owner", "owner@example.com")
	intruder := env.signup(t, "Intruder", "intruder@example.com")
	created := env.createPlace(t, owner.Token)
	if created.Creator != owner.UserID || created.ID == "" {
		t.Fatalf("unexpected place: %+v", created)
	}

	first := env.do(httptest.NewRequest(http.MethodGet, "/api/places/"+created.ID, nil))
	second := env.do(httptest.NewRequest(http.MethodGet, "/api/places/"+created.ID, nil))
	if first.Code != http.StatusOK || first.Body.String() != second.Body.String() {
		t.Fatalf("GET is not idempotent: %d %q vs %q", first.Code, first.Body.String(), second.Body.String())
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/places/user/"+owner.UserID, nil))
	var listing struct {
		Places []placeView `json:"places"`
	}
	decode(t, rr, &listing)
	if len(listing.Places) != 1 || listing.Places[0].ID != created.ID {
		t.Fatalf("unexpected places for owner: %+v", listing.Places)
	}

	title := "Hijacked"
	assertError(t, env.do(jsonRequest(http.MethodPatch, "/api/places/"+created.ID, map[string]*string{"title": &title}, intruder.Token)), http.StatusForbidden)
	assertError(t, env.do(jsonRequest(http.MethodDelete, "/api/places/"+created.ID, nil, intruder.Token)), http.StatusForbidden)
	after := env.do(httptest.NewRequest(http.MethodGet, "/api/places/"+created.ID, nil))
	if after.Body.String() != first.Body.String() {
		t.Fatalf("non-owner changed the record: %s", after.Body.String())
	}

	description := "Now with a longer description"
	rr = env.do(jsonRequest(http.MethodPatch, "/api/places/"+created.ID, map[string]*string{"description": &description}, owner.Token))
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d: %s", rr.Code, rr.Body.String())
	}
	var updated struct {
		Place placeView `json:"place"`
	}
	decode(t, rr, &updated)
	if updated.Place.Description != description || updated.Place.Title != created.Title {
		t.Fatalf("unexpected update: %+v", updated.Place)
	}

	rr = env.do(jsonRequest(http.MethodDelete, "/api/places/"+created.ID, nil, owner.Token))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status %d: %s", rr.Code, rr.Body.String())
	}
	assertError(t, env.do(httptest.NewRequest(http.MethodGet, "/api/places/"+created.ID, nil)), http.StatusNotFound)
	assertError(t, env.do(httptest.NewRequest(http.MethodGet, "/api/places/user/"+owner.UserID, nil)), http.StatusNotFound)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if strings.Contains(rr.Body.String(), created.ID) {
		t.Fatalf("deleted place still listed for its owner: %s", rr.Body.String())
	}
	if err := statAfterWait(env, created.Image); !os.IsNotExist(err) {
		t.Fatalf("place image should be removed, stat err=%v", err)
	}
}

func statAfterWait(env *testEnv, ref string) error {
	env.media.Wait()
	_, err := os.Stat(filepath.FromSlash(ref))
	return err
}

func TestCreatePlaceValidationDiscardsUpload(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "Owner", "owner@example.com")
	req := multipartRequest(t, http.MethodPost, "/api/places", map[string]string{
		"title":       "Tiny",
		"description": "abc",
		"address":     "Somewhere",
	}, pngBytes, "image/png")
	req.Header.Set("Authorization", "Bearer "+owner.Token)
	assertError(t, env.do(req), http.StatusUnprocessableEntity)
	if n := storedFiles(t, env); n != 1 {
		t.Fatalf("expected only the avatar to remain, found %d files", n)
	}
}

func TestUnknownRoutesReturnJSON404(t *testing.T) {
	env := newTestEnv(t)
	assertError(t, env.do(httptest.NewRequest(http.MethodGet, "/api/nothing", nil)), http.StatusNotFound)
	assertError(t, env.do(httptest.NewRequest(http.MethodPut, "/api/users", nil)), http.StatusNotFound)
	assertError(t, env.do(httptest.NewRequest(http.MethodGet, "/uploads/images/", nil)), http.StatusNotFound)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodOptions, "/api/places", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin header")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Fatalf("unexpected allow-methods: %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
	get := env.do(httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if get.Header().Get("Access-Control-Allow-Headers") != corsAllowHeaders {
		t.Fatalf("CORS headers missing on regular responses")
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitLogin; i++ {
		last = env.do(jsonRequest(http.MethodPost, "/api/users/login", map[string]string{"email": "a@example.com", "password": "x"}, ""))
	}
	assertError(t, last, http.StatusTooManyRequests)
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining header: %q", last.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestUploadsAreServed(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "Owner", "owner@example.com")
	created := env.createPlace(t, owner.Token)
	rr := env.do(httptest.NewRequest(http.MethodGet, uploadsPrefix+filepath.Base(created.Image), nil))
	if rr.Code != http.StatusOK || !bytes.Equal(rr.Body.Bytes(), pngBytes) {
		t.Fatalf("expected stored image, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	decode(t, rr, &payload)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestFeedRequiresUserID(t *testing.T) {
	env := newTestEnv(t)
	assertError(t, env.do(httptest.NewRequest(http.MethodGet, "/api/events/places", nil)), http.StatusBadRequest)
}
