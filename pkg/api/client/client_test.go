package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSignupSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/signup" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("email") != "ada@example.com" || r.FormValue("name") != "Ada" {
			t.Errorf("unexpected fields: %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if string(data) != "img" || header.Header.Get("Content-Type") != "image/png" {
				t.Errorf("unexpected image part: %q %q", data, header.Header.Get("Content-Type"))
			}
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Session{UserID: "u1", Email: "ada@example.com", Token: "tok"})
	}))
	defer srv.Close()

	cli, err := New(srv.URL + "/api/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	session, err := cli.Signup(context.Background(), SignupInput{
		Name:     "Ada",
		Email:    "ada@example.com",
		Password: "secret1",
		Image:    Image{Filename: "a.png", ContentType: "image/png", Body: strings.NewReader("img")},
	})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if session.UserID != "u1" || session.Token != "tok" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestErrorsCarryServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"You are not allowed to delete this place.","statusCode":403}`)
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	err := cli.DeletePlace(context.Background(), "tok", "p1")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "You are not allowed to delete this place." {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestUpdatePlaceSendsOnlyProvidedFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["description"]; ok {
			t.Errorf("description should be omitted: %v", body)
		}
		if body["title"] != "New" {
			t.Errorf("unexpected title: %v", body)
		}
		_, _ = io.WriteString(w, `{"place":{"id":"p1","title":"New"}}`)
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	title := "New"
	place, err := cli.UpdatePlace(context.Background(), "tok", "p1", UpdatePlaceInput{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if place.ID != "p1" || place.Title != "New" {
		t.Fatalf("unexpected place: %+v", place)
	}
}

func TestCreatePlaceRequiresImage(t *testing.T) {
	cli, _ := New("localhost:1")
	if _, err := cli.CreatePlace(context.Background(), "tok", CreatePlaceInput{Title: "x"}); err == nil {
		t.Fatalf("expected error without image")
	}
}
