package bypass

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/headers"
)

const archivedPage = `<html><head><script src="/_static/js/wombat.js"></script>
<!-- End Wayback Rewrite JS Include -->
<title>Shop</title></head><body><div id="wm-ipp">toolbar</div>
<!-- END WAYBACK TOOLBAR INSERT -->
<h1>Archived shop</h1>
</body></html>
<!--
     FILE ARCHIVED ON 10:00:00 Jan 02, 2026 AND RETRIEVED FROM THE
     INTERNET ARCHIVE ON 10:00:01 Jan 02, 2026.
-->`

type fakeArchive struct {
	saveTimestamp string // empty: save fails with 520
	page          string // empty: archivedPage
	cdxRows       string
	saves         atomic.Int32
	cdxCalls      atomic.Int32
	seenUA        atomic.Value
}

func (f *fakeArchive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.seenUA.Store(r.Header.Get("User-Agent"))
	switch {
	case strings.HasPrefix(r.URL.Path, "/save/"):
		f.saves.Add(1)
		if f.saveTimestamp == "" {
			w.WriteHeader(520)
			return
		}
		target := strings.TrimPrefix(r.URL.Path, "/save/")
		// http.Redirect would clean the embedded "//".
		w.Header().Set("Location", fmt.Sprintf("/web/%s/%s", f.saveTimestamp, target))
		w.WriteHeader(http.StatusFound)
	case r.URL.Path == "/cdx/search/cdx":
		f.cdxCalls.Add(1)
		if r.URL.Query().Get("filter") != "statuscode:200" || r.URL.Query().Get("output") != "json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(f.cdxRows))
	case strings.HasPrefix(r.URL.Path, "/web/"):
		page := f.page
		if page == "" {
			page = archivedPage
		}
		_, _ = w.Write([]byte(page))
	default:
		http.NotFound(w, r)
	}
}

var archiveNow = time.Date(2026, 1, 2, 10, 0, 30, 0, time.UTC)

func newTestArchive(base string) *Archive {
	cfg := DefaultArchiveConfig()
	cfg.BaseURL = base
	cfg.MinInterval = 0
	a := NewArchive(cfg, headers.NewGenerator(rand.New(rand.NewPCG(3, 4))))
	a.now = func() time.Time { return archiveNow }
	return a
}

// --- Archive Tests ---

func TestArchive_Fetch_FreshSave(t *testing.T) {
	fake := &fakeArchive{saveTimestamp: "20260102100000"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	resp, err := newTestArchive(srv.URL).Fetch(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.URL != srv.URL+"/web/20260102100000/https://example.com" {
		t.Errorf("URL = %q", resp.URL)
	}
	if strings.Contains(string(resp.Body), "toolbar") || strings.Contains(string(resp.Body), "FILE ARCHIVED") {
		t.Errorf("toolbar not stripped: %q", resp.Body)
	}
	if !strings.Contains(string(resp.Body), "<h1>Archived shop</h1>") {
		t.Errorf("page content lost: %q", resp.Body)
	}
	if fake.cdxCalls.Load() != 0 {
		t.Error("fresh save should not consult the CDX API")
	}
	if ua, _ := fake.seenUA.Load().(string); !strings.HasPrefix(ua, "Mozilla/5.0") {
		t.Errorf("expected a browser User-Agent, got %q", ua)
	}
}

func TestArchive_Fetch_CachedSaveFallsBackToNewest(t *testing.T) {
	fake := &fakeArchive{
		saveTimestamp: "20250101000000",
		cdxRows:       `[["timestamp","original"],["20251201000000","https://example.com/"],["20251224000000","https://example.com/"]]`,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	resp, err := newTestArchive(srv.URL).Fetch(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.URL != srv.URL+"/web/20251224000000/https://example.com/" {
		t.Errorf("expected newest capture, got %q", resp.URL)
	}
	if fake.saves.Load() != 1 {
		t.Errorf("a cached save should not be retried, got %d saves", fake.saves.Load())
	}
}

func TestArchive_Fetch_SaveRetriesThenNewest(t *testing.T) {
	fake := &fakeArchive{
		cdxRows: `[["timestamp","original"],["20251224000000","https://example.com/"]]`,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	if _, err := newTestArchive(srv.URL).Fetch(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := fake.saves.Load(); got != 3 {
		t.Errorf("expected max_tries save attempts, got %d", got)
	}
	if fake.cdxCalls.Load() != 1 {
		t.Errorf("expected one CDX lookup, got %d", fake.cdxCalls.Load())
	}
}

func TestArchive_Attempt_NoSnapshot(t *testing.T) {
	fake := &fakeArchive{cdxRows: `[]`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	fc := fetcher.NewFetchContext("example.com", false, fetcher.DefaultTimeouts())
	_ = fc.Resolve("https://example.com", nil)

	_, err := newTestArchive(srv.URL).Attempt(context.Background(), fc)
	if !errors.Is(err, fetcher.ErrArchive) || !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Attempt() error = %v, want archive error with ErrNoSnapshot", err)
	}
	var fe *fetcher.Error
	if errors.As(err, &fe) && fe.Domain != "example.com" {
		t.Errorf("Domain = %q", fe.Domain)
	}
}

func TestArchive_Attempt_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fc := fetcher.NewFetchContext("example.com", false, fetcher.DefaultTimeouts())
	_ = fc.Resolve("https://example.com", nil)

	_, err := newTestArchive(srv.URL).Attempt(context.Background(), fc)
	if !errors.Is(err, fetcher.ErrArchive) || !errors.Is(err, fetcher.ErrTool) {
		t.Fatalf("Attempt() error = %v", err)
	}
}

func TestArchive_Attempt_OversizedSnapshot(t *testing.T) {
	fake := &fakeArchive{
		saveTimestamp: "20260102100000",
		page:          strings.Repeat("<p>filler</p>", 200) + archivedPage,
		cdxRows:       `[["timestamp","original"],["20260102100000","https://example.com"]]`,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	fc := fetcher.NewFetchContext("example.com", false, fetcher.DefaultTimeouts())
	_ = fc.Resolve("https://example.com", nil)

	a := newTestArchive(srv.URL)
	a.maxBody = 1024
	resp, err := a.Attempt(context.Background(), fc)
	if resp != nil {
		t.Fatalf("truncated snapshot returned (%d bytes)", len(resp.Body))
	}
	if !errors.Is(err, fetcher.ErrArchive) || !errors.Is(err, fetcher.ErrBodyTooLarge) {
		t.Fatalf("Attempt() error = %v, want archive error with ErrBodyTooLarge", err)
	}
}

func TestArchive_Fetch_ClosesConnections(t *testing.T) {
	srv, conns := trackedServer(&fakeArchive{saveTimestamp: "20260102100000"})
	defer srv.Close()

	if _, err := newTestArchive(srv.URL).Fetch(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	conns.waitClosed(t)
}

// connTracker counts server-side connections opened and closed.
type connTracker struct {
	opened atomic.Int32
	closed atomic.Int32
}

func trackedServer(h http.Handler) (*httptest.Server, *connTracker) {
	ct := &connTracker{}
	srv := httptest.NewUnstartedServer(h)
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			ct.opened.Add(1)
		case http.StateClosed, http.StateHijacked:
			ct.closed.Add(1)
		}
	}
	srv.Start()
	return srv, ct
}

// waitClosed fails when connections stay open after the client is done.
func (ct *connTracker) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ct.opened.Load() > 0 && ct.closed.Load() == ct.opened.Load() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("connections: opened %d, closed %d", ct.opened.Load(), ct.closed.Load())
}

// --- StripToolbar Tests ---

func TestStripToolbar(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "toolbar insert marker",
			in:   "junk<!-- END WAYBACK TOOLBAR INSERT -->\n<p>page</p>\n<!--\n FILE ARCHIVED ON x -->",
			want: "<p>page</p>",
		},
		{
			name: "rewrite include marker",
			in:   "junk<!-- End Wayback Rewrite JS Include --><p>page</p>FILE ARCHIVED ON",
			want: "<p>page</p>",
		},
		{
			name: "generic end marker",
			in:   "junk<!-- end of wayback banner --><p>page</p>file archived on",
			want: "<p>page</p>",
		},
		{
			name: "no footer",
			in:   "<!-- END WAYBACK TOOLBAR INSERT --><p>page</p>",
			want: "<!-- END WAYBACK TOOLBAR INSERT --><p>page</p>",
		},
		{
			name: "no markers",
			in:   "<p>plain</p>",
			want: "<p>plain</p>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripToolbar(tt.in); got != tt.want {
				t.Errorf("StripToolbar() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnapshotTime(t *testing.T) {
	ts, err := snapshotTime("https://web.archive.org/web/20260102100000/https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Equal(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("snapshotTime() = %v", ts)
	}
	if _, err := snapshotTime("https://web.archive.org/save/x"); err == nil {
		t.Error("expected error without timestamp")
	}
}
