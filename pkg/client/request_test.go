package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/Sternrassler/okquery/pkg/credentials"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(context.Background(), "https://api.example.test/repos?page=2", credentials.Named("work"))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if req.Method != http.MethodGet {
		t.Errorf("Method = %s", req.Method)
	}
	if req.URL.Query().Get("page") != "2" {
		t.Errorf("URL = %s", req.URL)
	}
	if credentials.FromRequest(req) != credentials.Named("work") {
		t.Errorf("token = %v", credentials.FromRequest(req))
	}

	if _, err := NewRequest(context.Background(), "://nope", credentials.DefaultToken); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestJSONPostRequest(t *testing.T) {
	body := map[string]string{"title": "bug"}
	req, err := JSONPostRequest(context.Background(), "https://api.example.test/issues", body, credentials.NoToken)
	if err != nil {
		t.Fatalf("JSONPostRequest() error = %v", err)
	}
	if req.Method != http.MethodPost {
		t.Errorf("Method = %s", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	data, _ := io.ReadAll(req.Body)
	if string(data) != `{"title":"bug"}` {
		t.Errorf("body = %s", data)
	}
	if !credentials.FromRequest(req).IsNone() {
		t.Error("expected NoToken")
	}

	if _, err := JSONPostRequest(context.Background(), "https://x.test", make(chan int), credentials.DefaultToken); err == nil {
		t.Error("expected encode error for channel body")
	}
}

func TestFormRequest(t *testing.T) {
	form := url.Values{"grant_type": {"refresh_token"}, "scope": {"read"}}
	req, err := FormRequest(context.Background(), "https://auth.example.test/token", form, credentials.DefaultToken)
	if err != nil {
		t.Fatalf("FormRequest() error = %v", err)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := req.ParseForm(); err != nil {
		t.Fatalf("ParseForm() error = %v", err)
	}
	if req.PostForm.Get("grant_type") != "refresh_token" || req.PostForm.Get("scope") != "read" {
		t.Errorf("form = %v", req.PostForm)
	}
}

func TestEditRequest(t *testing.T) {
	orig, _ := NewRequest(context.Background(), "https://api.example.test/a", credentials.Named("ci"))

	edited := EditRequest(orig, func(r *http.Request) {
		r.Header.Set("X-Trace", "1")
	})

	if edited == orig {
		t.Fatal("EditRequest() must return a copy")
	}
	if edited.Header.Get("X-Trace") != "1" {
		t.Error("edit not applied")
	}
	if orig.Header.Get("X-Trace") != "" {
		t.Error("original request mutated")
	}
	if credentials.FromRequest(edited) != credentials.Named("ci") {
		t.Error("token lost by edit")
	}

	if same := EditRequest(orig, nil); same.URL.String() != orig.URL.String() {
		t.Error("nil edit should return an equivalent copy")
	}
}
