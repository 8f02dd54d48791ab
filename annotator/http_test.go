package annotator

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/floatnote/annotation"
)

func doJSON(t *testing.T, method, target string, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHTTP_AnnotationsCRUD(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	f.seed(t,
		storedHighlight("h1", pageURL, "p[1]", t0),
		storedHighlight("h2", pageURL+"?x=1", "p[1]", t0.Add(time.Minute)),
		storedNote("n1", pageURL, "<p>hello</p>", t0.Add(2*time.Minute)),
	)

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/api/annotations?url="+url.QueryEscape(pageURL), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, data)
	}
	var list []annotation.Annotation
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "n1" || list[1].ID != "h1" {
		t.Fatalf("list = %s", data)
	}

	resp, data = doJSON(t, http.MethodGet, srv.URL+"/api/annotations?kind=highlight", "")
	json.Unmarshal(data, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 2 {
		t.Errorf("kind filter: %d %s", resp.StatusCode, data)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/annotations?kind=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad kind: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/annotations/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing: %d", resp.StatusCode)
	}

	body := `{"id":"n2","kind":"note","url":"` + pageURL + `","created_at":"2024-06-02T00:00:00Z",` +
		`"note":{"html":"<p>x<script>bad()</script></p>","bbox":{"left":1,"top":2,"width":3,"height":4},"view_mode":"view"}}`
	resp, data = doJSON(t, http.MethodPut, srv.URL+"/api/annotations/n2", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: %d %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, http.MethodGet, srv.URL+"/api/annotations/n2", "")
	var got annotation.Annotation
	json.Unmarshal(data, &got)
	if resp.StatusCode != http.StatusOK || strings.Contains(got.Note.HTML, "script") {
		t.Errorf("get n2: %d %s", resp.StatusCode, data)
	}

	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/annotations/other", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("id mismatch: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/annotations/n3", `{"kind":"note"`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, srv.URL+"/api/annotations/n3", `{"kind":"note","url":"`+pageURL+`"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid record: %d", resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		resp, data = doJSON(t, http.MethodDelete, srv.URL+"/api/annotations/n2", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete %d: %d %s", i, resp.StatusCode, data)
		}
	}
}

func TestHTTP_Export(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()
	f.seed(t,
		storedHighlight("h1", pageURL, "p[1]", t0),
		storedNote("n1", pageURL, "<p>hello <strong>bold</strong></p>", t0.Add(time.Minute)),
	)

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/api/export?url="+url.QueryEscape(pageURL), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown") {
		t.Errorf("content type = %s", resp.Header.Get("Content-Type"))
	}
	md := string(data)
	for _, want := range []string{"# " + pageURL, "> text of h1", "## Notes", "hello **bold**"} {
		if !strings.Contains(md, want) {
			t.Errorf("export missing %q:\n%s", want, md)
		}
	}
}

func TestHTTP_Pages(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()
	page := newPage(t, pageURL, threeParas)
	sess := f.attach(t, page)

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/api/pages", "")
	var pages []PageInfo
	json.Unmarshal(data, &pages)
	if resp.StatusCode != http.StatusOK || len(pages) != 1 || pages[0].ID != sess.ID() {
		t.Fatalf("pages: %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPost, srv.URL+"/api/pages/"+sess.ID()+"/mode", `{"mode":"highlight"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mode: %d %s", resp.StatusCode, data)
	}
	if sess.Mode() != ModeSelectionArmed {
		t.Errorf("mode = %s", sess.Mode())
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/pages/"+sess.ID()+"/mode", `{"mode":"bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus mode: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/pages/pg_nope/mode", `{"mode":"highlight"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown page: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/pages/"+sess.ID()+"/scroll", `{"x":30,"y":500}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scroll: %d", resp.StatusCode)
	}
	if x, y, _ := page.ScrollOffset(); x != 0 || y != 450 {
		t.Errorf("scroll = %g,%g", x, y)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/pages", `{"url":"https://ex.com"}`)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("open without browser: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/pages/"+sess.ID(), "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("close page: %d", resp.StatusCode)
	}
	if len(f.svc.Pages()) != 0 {
		t.Error("page still listed")
	}
}

func TestHTTP_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()
	f.svc.Store().DB.Close()

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/annotations", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "degraded" || h.Error == "" {
		t.Errorf("health = %+v", h)
	}
}

func TestHTTP_HealthCounts(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.seed(t,
		storedHighlight("h1", pageURL, "p[1]", now),
		storedHighlight("h2", "https://other.example/", "p[1]", now),
		storedNote("n1", pageURL, "<p>memo</p>", now),
	)
	f.attach(t, newPage(t, pageURL, threeParas))
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, data)
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Pages != 1 {
		t.Errorf("health = %+v", h)
	}
	if h.Annotations[annotation.KindHighlight] != 2 || h.Annotations[annotation.KindNote] != 1 {
		t.Errorf("annotations = %v", h.Annotations)
	}
}

func TestHTTP_HealthAndCORS(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdef" {
		t.Errorf("allow origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestHTTP_EventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.svc.Handler())
	defer srv.Close()
	page := newPage(t, pageURL, threeParas)
	sess := f.attach(t, page)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?page="+sess.ID(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// The handler subscribes before sending headers.
	if err := f.svc.SetMode(context.Background(), sess.ID(), "highlight"); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: setMode" {
			return
		}
	}
	t.Fatalf("no setMode event: %v", sc.Err())
}
