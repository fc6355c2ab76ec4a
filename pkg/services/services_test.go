package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/headers"
)

func testContext(t *testing.T, lang string) *fetcher.FetchContext {
	t.Helper()
	fc := fetcher.NewFetchContext("example.com", false, fetcher.Timeouts{
		Connect: time.Second,
		Tool:    time.Second,
		Service: 5 * time.Second,
	})
	set := headers.Set{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Accept-Language": lang,
	}
	if err := fc.Resolve("https://example.com", set); err != nil {
		t.Fatal(err)
	}
	return fc
}

func assertServiceError(t *testing.T, err error, kind fetcher.Kind, status int) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	var fe *fetcher.Error
	if !errors.As(err, &fe) {
		t.Fatalf("error %T is not *fetcher.Error", err)
	}
	if fe.Kind != kind {
		t.Errorf("Kind = %v, want %v", fe.Kind, kind)
	}
	if fe.Status != status {
		t.Errorf("Status = %d, want %d", fe.Status, status)
	}
	if !errors.Is(err, fetcher.ErrService) {
		t.Error("not in the service family")
	}
	if !fe.Recoverable() {
		t.Error("service errors must be recoverable")
	}
}

func TestAll_Order(t *testing.T) {
	got := All(DefaultConfig())
	want := []string{NameScrapingAnt, NameScrapeUp, NameDripCrawler}
	if len(got) != len(want) {
		t.Fatalf("len = %d", len(got))
	}
	for i, s := range got {
		if s.Name() != want[i] {
			t.Errorf("All()[%d] = %s, want %s", i, s.Name(), want[i])
		}
	}
}

func TestMissingCredential_FailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.ScrapingAnt.BaseURL = srv.URL
	cfg.ScrapeUp.BaseURL = srv.URL
	cfg.DripCrawler.BaseURL = srv.URL

	kinds := []fetcher.Kind{fetcher.KindScrapingAnt, fetcher.KindScrapeUp, fetcher.KindDripCrawler}
	for i, s := range All(cfg) {
		_, err := s.Attempt(context.Background(), testContext(t, "en-US,en;q=0.9"))
		assertServiceError(t, err, kinds[i], 0)
		if !errors.Is(err, fetcher.ErrMissingCredential) {
			t.Errorf("%s: error = %v, want missing credential", s.Name(), err)
		}
	}
	if calls != 0 {
		t.Errorf("server called %d times without credentials", calls)
	}
}

// --- ScrapingAnt ---

func TestScrapingAnt_Attempt_RequestShape(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	cfg := DefaultScrapingAntConfig()
	cfg.BaseURL = srv.URL + "/"
	cfg.APIKey = "k/1"

	resp, err := NewScrapingAnt(cfg).Attempt(context.Background(), testContext(t, "de-DE,de;q=0.9"))
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if gotPath != "/v2/general" {
		t.Errorf("path = %q", gotPath)
	}
	want := "url=https%3A%2F%2Fexample.com&x-api-key=k%2F1&proxy_country=DE&return_page_source=true"
	if gotQuery != want {
		t.Errorf("query = %q\nwant    %q", gotQuery, want)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "<html><title>ok</title></html>" {
		t.Errorf("got %d %q", resp.StatusCode, resp.Body)
	}
	if resp.URL != "https://example.com" {
		t.Errorf("URL = %q", resp.URL)
	}
}

func TestScrapingAnt_Country(t *testing.T) {
	s := NewScrapingAnt(DefaultScrapingAntConfig())
	tests := []struct {
		lang string
		want string
	}{
		{"de-DE,de;q=0.9", "DE"},
		{"en-GB,en;q=0.9", "GB"},
		{"ja-JP,ja;q=0.9", "JP"},
		{"en-US,en;q=0.9", "US"},
		{"de-AT,de;q=0.9", "US"},
		{"de", "US"},
		{"", "US"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			got := s.Country(headers.Set{"Accept-Language": tt.lang})
			if got != tt.want {
				t.Errorf("Country(%q) = %q, want %q", tt.lang, got, tt.want)
			}
		})
	}
}

func TestScrapingAnt_Attempt_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cfg := DefaultScrapingAntConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "key"

	_, err := NewScrapingAnt(cfg).Attempt(context.Background(), testContext(t, "en-US"))
	assertServiceError(t, err, fetcher.KindScrapingAnt, http.StatusUnprocessableEntity)
	if !errors.Is(err, fetcher.ErrScrapingAnt) {
		t.Errorf("error = %v, want ErrScrapingAnt", err)
	}
}

// --- ScrapeUp ---

func TestScrapeUp_Attempt_RequestShape(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("<html>rendered</html>"))
	}))
	defer srv.Close()

	cfg := ScrapeUpConfig{BaseURL: srv.URL, APIKey: "secret"}
	resp, err := NewScrapeUp(cfg).Attempt(context.Background(), testContext(t, "en-US"))
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("method = %s", gotMethod)
	}
	want := "api_key=secret&url=https%3A%2F%2Fexample.com&render=true"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
	if string(resp.Body) != "<html>rendered</html>" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestScrapeUp_Attempt_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>final</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := NewScrapeUp(ScrapeUpConfig{BaseURL: srv.URL, APIKey: "k"}).
		Attempt(context.Background(), testContext(t, "en-US"))
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if string(resp.Body) != "<html>final</html>" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestScrapeUp_Attempt_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewScrapeUp(ScrapeUpConfig{BaseURL: url, APIKey: "k"}).
		Attempt(context.Background(), testContext(t, "en-US"))
	assertServiceError(t, err, fetcher.KindScrapeUp, 0)
}

// --- DripCrawler ---

func TestDripCrawler_Attempt_RequestShape(t *testing.T) {
	var gotMethod, gotPath string
	var gotKey, gotHost, gotCT string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-RapidAPI-Key")
		gotHost = r.Header.Get("X-RapidAPI-Host")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"extracted_html":"<html><title>drip</title></html>","status":"ok"}`))
	}))
	defer srv.Close()

	cfg := DefaultDripCrawlerConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "rapid"

	resp, err := NewDripCrawler(cfg).Attempt(context.Background(), testContext(t, "en-US"))
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotKey != "rapid" || gotHost != "dripcrawler.p.rapidapi.com" || gotCT != "application/json" {
		t.Errorf("headers key=%q host=%q ct=%q", gotKey, gotHost, gotCT)
	}
	if gotBody["url"] != "https://example.com" || gotBody["javascript_rendering"] != "True" {
		t.Errorf("payload = %v", gotBody)
	}

	if string(resp.Body) != "<html><title>drip</title></html>" {
		t.Errorf("body = %q", resp.Body)
	}
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("normalised response = %d %v", resp.StatusCode, resp.Header)
	}
}

func TestDripCrawler_Attempt_BadReplies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing field", `{"status":"ok"}`},
		{"non-string field", `{"extracted_html":42}`},
		{"invalid json", `<html>not json</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			cfg := DefaultDripCrawlerConfig()
			cfg.BaseURL = srv.URL
			cfg.APIKey = "rapid"
			_, err := NewDripCrawler(cfg).Attempt(context.Background(), testContext(t, "en-US"))
			assertServiceError(t, err, fetcher.KindDripCrawler, http.StatusOK)
		})
	}
}

func TestDripCrawler_Attempt_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := DefaultDripCrawlerConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "rapid"
	_, err := NewDripCrawler(cfg).Attempt(context.Background(), testContext(t, "en-US"))
	assertServiceError(t, err, fetcher.KindDripCrawler, http.StatusTooManyRequests)
}

func TestService_Attempt_RespectsTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	fc := testContext(t, "en-US")
	fc.Timeouts.Service = 50 * time.Millisecond

	start := time.Now()
	_, err := NewScrapeUp(ScrapeUpConfig{BaseURL: srv.URL, APIKey: "k"}).Attempt(context.Background(), fc)
	assertServiceError(t, err, fetcher.KindScrapeUp, 0)
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not applied, took %v", time.Since(start))
	}
}

func TestService_Attempt_RejectsOversizedBody(t *testing.T) {
	page := strings.Repeat("a", maxBodySize) + "<p>END</p>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	ant := DefaultScrapingAntConfig()
	ant.BaseURL, ant.APIKey = srv.URL, "k"
	drip := DefaultDripCrawlerConfig()
	drip.BaseURL, drip.APIKey = srv.URL, "k"

	tests := []struct {
		service fetcher.Strategy
		kind    fetcher.Kind
	}{
		{NewScrapingAnt(ant), fetcher.KindScrapingAnt},
		{NewScrapeUp(ScrapeUpConfig{BaseURL: srv.URL, APIKey: "k"}), fetcher.KindScrapeUp},
		{NewDripCrawler(drip), fetcher.KindDripCrawler},
	}
	for _, tt := range tests {
		t.Run(tt.service.Name(), func(t *testing.T) {
			resp, err := tt.service.Attempt(context.Background(), testContext(t, "en-US"))
			if resp != nil {
				t.Fatalf("truncated body returned (%d bytes)", len(resp.Body))
			}
			assertServiceError(t, err, tt.kind, http.StatusOK)
			if !errors.Is(err, fetcher.ErrBodyTooLarge) {
				t.Errorf("error = %v, want ErrBodyTooLarge", err)
			}
		})
	}
}
