package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"site-replica/pkg/utils"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testClient returns an http.Client suitable for testing
func testClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func TestClassifyContentType(t *testing.T) {
	tests := []struct {
		contentType string
		expected    Kind
	}{
		{"text/html; charset=utf-8", KindPage},
		{"application/xhtml+xml", KindPage},
		{"image/png", KindImage},
		{"image/svg+xml", KindImage},
		{"text/css", KindCSS},
		{"application/javascript", KindJS},
		{"text/javascript; charset=utf-8", KindJS},
		{"application/pdf", KindOther},
		{"", KindOther},
		{"  TEXT/HTML ", KindPage},
	}
	for _, tt := range tests {
		if got := ClassifyContentType(tt.contentType); got != tt.expected {
			t.Errorf("ClassifyContentType(%q) = %q, want %q", tt.contentType, got, tt.expected)
		}
	}
}

func TestFetcher_Success(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(server.Close)

	f := NewFetcher(testClient(), "test-agent/1.0", 0, testLogger())
	res, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.Kind != KindPage {
		t.Errorf("Kind = %q, want %q", res.Kind, KindPage)
	}
	if !strings.Contains(string(res.Body), "ok") {
		t.Errorf("unexpected body: %q", res.Body)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("User-Agent = %q, want test-agent/1.0", gotUA)
	}
}

func TestFetcher_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"NotFound", http.StatusNotFound, utils.ErrClientHTTPError},
		{"Forbidden", http.StatusForbidden, utils.ErrClientHTTPError},
		{"ServerError", http.StatusInternalServerError, utils.ErrServerHTTPError},
		{"BadGateway", http.StatusBadGateway, utils.ErrServerHTTPError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(server.Close)

			f := NewFetcher(testClient(), "test-agent", 0, testLogger())
			_, err := f.Fetch(context.Background(), server.URL)
			if err == nil {
				t.Fatal("Fetch succeeded on error status")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v not wrapped with expected sentinel", err)
			}
		})
	}
}

func TestFetcher_BodySizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 2048))
	}))
	t.Cleanup(server.Close)

	f := NewFetcher(testClient(), "test-agent", 1024, testLogger())
	_, err := f.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Fetch accepted an oversized body")
	}
	if !errors.Is(err, utils.ErrResponseBodyRead) {
		t.Errorf("error %v not wrapped with ErrResponseBodyRead", err)
	}
}

func TestFetcher_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := NewFetcher(testClient(), "test-agent", 0, testLogger())
	_, err := f.Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("Fetch ignored context deadline")
	}
}

func TestFetcher_InvalidURL(t *testing.T) {
	f := NewFetcher(testClient(), "test-agent", 0, testLogger())
	_, err := f.Fetch(context.Background(), "http://%zz")
	if err == nil {
		t.Fatal("Fetch accepted an invalid URL")
	}
}
