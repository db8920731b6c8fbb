package rackbeat

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/retry"
	"github.com/powertrain/catalogsync/pkg/errors"
)

func testClient(baseURL string) *Client {
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	return NewClient(config.SourceConfig{Endpoint: baseURL + "/api/products", APIKey: "rb-key"}, policy, nil)
}

func TestClient_PageAcceptsPartialContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer rb-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("limit") != "250" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(`{"products":[{"number":"DA-1","name":"Drivaksel","sales_price":"1299,50","group":{"number":1010}}],"pages":3}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).Page(context.Background(), 2, 250)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if page.Pages != 3 || len(page.Items) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	item := page.Items[0]
	if item.SKU != "DA-1" || item.Price.String() != "1299.5" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestClient_PageItemsKeyAndRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"number":"A"},{"number":"B"}],"pages":"1"}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).Page(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if calls.Load() != 2 || len(page.Items) != 2 || page.Pages != 1 {
		t.Fatalf("calls=%d page=%+v", calls.Load(), page)
	}
}

func TestClient_PageUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Page(context.Background(), 1, 250)
	var unauthorized *errors.ErrUnauthorized
	if !stderrors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("401 must not be retried, got %d calls", calls.Load())
	}
}

func TestClient_FetchFieldsTriesCandidates(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RequestURI())
		switch r.URL.Path {
		case "/api/products/DA-1/field-values":
			_, _ = w.Write([]byte(`{"data":{"field_values":[{"field":{"name":"I Nettbutikk"},"value":"Ja"}]}}`))
		case "/api/products/DA-1":
			_, _ = w.Write([]byte(`{"product":{"number":"DA-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fields, err := testClient(srv.URL).FetchFields(context.Background(), srv.URL+"/api/products/DA-1")
	if err != nil {
		t.Fatalf("FetchFields: %v", err)
	}
	if fields["inettbutikk"] != "Ja" {
		t.Fatalf("fields = %v", fields)
	}
	want := []string{
		"/api/products/DA-1?include=fields",
		"/api/products/DA-1?include=custom_fields",
		"/api/products/DA-1",
		"/api/products/DA-1/fields",
		"/api/products/DA-1/custom-fields",
		"/api/products/DA-1/custom_fields",
		"/api/products/DA-1/field-values",
	}
	if strings.Join(seen, " ") != strings.Join(want, " ") {
		t.Fatalf("candidate order:\n got %v\nwant %v", seen, want)
	}
}

func TestClient_FetchFieldsRefusesForeignHost(t *testing.T) {
	c := testClient("https://app.rackbeat.com")
	_, err := c.FetchFields(context.Background(), "https://evil.example.com/api/products/1")
	var validation *errors.ErrValidation
	if !stderrors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClient_FetchFieldsReportsUnavailableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/fields") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fields, err := testClient(srv.URL).FetchFields(context.Background(), srv.URL+"/api/products/DA-1")
	var status *errors.ErrStatus
	if !stderrors.As(err, &status) || status.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 to surface, got %v, %v", fields, err)
	}
}

func TestClient_FetchFieldsMissingShapesAreEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fields, err := testClient(srv.URL).FetchFields(context.Background(), srv.URL+"/api/products/DA-1")
	if err != nil || len(fields) != 0 {
		t.Fatalf("expected no fields and no error, got %v, %v", fields, err)
	}
}

func TestClient_FetchFieldsUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchFields(context.Background(), srv.URL+"/api/products/DA-1")
	if !errors.IsUnauthorized(err) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("403 must stop the candidate walk, got %d calls", calls.Load())
	}
}
