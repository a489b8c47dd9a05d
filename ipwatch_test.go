package ipwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/data"
	"github.com/scraperwall/ipwatch/store"
)

// testEnv wires an IPWatch to fake AbuseIPDB and webhook servers
type testEnv struct {
	watch     *IPWatch
	router    *gin.Engine
	cacheFile string
	api       *httptest.Server
	webhook   *httptest.Server

	mutex    sync.Mutex
	messages []data.WebhookMessage
}

func newTestEnv(t *testing.T, apiHandler http.HandlerFunc) *testEnv {
	gin.SetMode(gin.TestMode)

	dir, err := ioutil.TempDir("", "ipwatch")
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{cacheFile: filepath.Join(dir, "ipCache.json")}

	env.api = httptest.NewServer(apiHandler)
	env.webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg data.WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Error(err)
		}
		env.mutex.Lock()
		env.messages = append(env.messages, msg)
		env.mutex.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))

	cfg := &config.Config{
		WebhookURL:     env.webhook.URL,
		APIKey:         "test-key",
		APIBase:        env.api.URL,
		CacheFile:      env.cacheFile,
		RequestTimeout: 5 * time.Second,
		AdminPrefix:    "/_ipwatch",
	}
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	visits, err := store.Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}

	resources, err := NewResources(ctx, cfg, visits)
	if err != nil {
		t.Fatal(err)
	}

	env.watch = New(ctx, cfg, resources)
	env.router = NewRouter(env.watch, cfg.AdminPrefix)

	t.Cleanup(func() {
		env.watch.Close()
		cancel()
		env.api.Close()
		env.webhook.Close()
		os.RemoveAll(dir)
	})

	return env
}

func (env *testEnv) request(ip, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Forwarded-For", ip)
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) sent() []data.WebhookMessage {
	env.mutex.Lock()
	defer env.mutex.Unlock()
	return append([]data.WebhookMessage(nil), env.messages...)
}

func reputationHandler(score int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := r.URL.Query().Get("ipAddress")
		fmt.Fprintf(w, `{"data":{"ipAddress":%q,"abuseConfidenceScore":%d,"countryCode":"NL","isp":"Example BV","usageType":"Data Center/Web Hosting/Transit","domain":"example.nl","hostnames":["a.com"],"totalReports":7,"numDistinctUsers":2,"lastReportedAt":null}}`, ip, score)
	}
}

func TestEndToEnd(t *testing.T) {
	env := newTestEnv(t, reputationHandler(90))

	rec := env.request("1.2.3.4", "/")
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello World" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	env.watch.Wait()

	content, err := ioutil.ReadFile(env.cacheFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"1.2.3.4":{"count":1}}` {
		t.Errorf("unexpected cache content %s", content)
	}

	messages := env.sent()
	if len(messages) != 1 || len(messages[0].Embeds) != 1 {
		t.Fatalf("expected one notification with one embed but got %+v", messages)
	}

	embed := messages[0].Embeds[0]
	if embed.Color != ColorHigh {
		t.Errorf("a score of 90 should be high but the color is %d", embed.Color)
	}
	if embed.Title != "1.2.3.4 (has visited __1__ time)" {
		t.Errorf("wrong title %s", embed.Title)
	}
	if f, _ := embed.Field("Hostnames"); f.Value != "> a.com" {
		t.Errorf("wrong hostnames %q", f.Value)
	}
	if f, _ := embed.Field("Path"); f.Value != "**`/`**" {
		t.Errorf("wrong path %q", f.Value)
	}

	// the second visit shows the real count
	env.request("1.2.3.4", "/")
	env.watch.Wait()

	messages = env.sent()
	if len(messages) != 2 {
		t.Fatalf("expected two notifications but got %d", len(messages))
	}
	if title := messages[1].Embeds[0].Title; title != "1.2.3.4 (has visited __2__ times)" {
		t.Errorf("wrong title for the second visit: %s", title)
	}
}

func TestErrorEnvelopeSendsNothing(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"status":429,"detail":"rate limited"}]}`))
	})

	rec := env.request("1.2.3.4", "/")
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello World" {
		t.Errorf("the request must succeed regardless of the API: %d %q", rec.Code, rec.Body.String())
	}

	env.watch.Wait()

	if n := len(env.sent()); n != 0 {
		t.Errorf("no notification must be sent on an API error but %d were sent", n)
	}

	visits, err := env.watch.Visits()
	if err != nil {
		t.Fatal(err)
	}
	if len(visits) != 0 {
		t.Errorf("visits must not be counted on an API error: %+v", visits)
	}
}

func TestRequestIsNotDelayed(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		reputationHandler(10)(w, r)
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- env.request(gofakeit.IPv4Address(), "/")
	}()

	select {
	case rec := <-done:
		if rec.Code != http.StatusOK {
			t.Errorf("unexpected status %d", rec.Code)
		}
	case <-time.After(2 * time.Second):
		t.Error("the request waited for the reputation check")
	}

	close(release)
	env.watch.Wait()

	if n := len(env.sent()); n != 1 {
		t.Errorf("expected one notification but got %d", n)
	}
}

func TestPanicIsIsolated(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()

	// a nil reputation client panics inside the background goroutine
	w := New(context.Background(), cfg, &Resources{})
	w.Go(&data.Request{IP: "1.2.3.4", Method: "GET", Path: "/"})
	w.Wait()
}

func TestVisitCountsAreMonotonic(t *testing.T) {
	env := newTestEnv(t, reputationHandler(0))

	ip := gofakeit.IPv4Address()
	last := 0
	for i := 0; i < 5; i++ {
		if err := env.watch.HandleRequest(context.Background(), &data.Request{IP: ip, Method: "GET", Path: "/"}); err != nil {
			t.Fatal(err)
		}
		visits, _ := env.watch.Visits()
		if visits[ip].Count <= last {
			t.Errorf("visit count went from %d to %d", last, visits[ip].Count)
		}
		last = visits[ip].Count
	}

	if last != 5 {
		t.Errorf("%s should have 5 visits but has %d", ip, last)
	}
}

func TestVisitsAPI(t *testing.T) {
	env := newTestEnv(t, reputationHandler(50))

	for i := 0; i < 3; i++ {
		env.request("9.9.9.9", "/")
	}
	env.request("1.1.1.1", "/")
	env.watch.Wait()

	rec := env.request("127.0.0.1", "/_ipwatch/visits")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var visits []data.IPVisits
	if err := json.Unmarshal(rec.Body.Bytes(), &visits); err != nil {
		t.Fatal(err)
	}
	if len(visits) != 2 {
		t.Fatalf("expected 2 IPs but got %+v", visits)
	}
	if visits[0].IP != "9.9.9.9" || visits[0].Count != 3 {
		t.Errorf("the most frequent visitor should come first: %+v", visits)
	}

	rec = env.request("127.0.0.1", "/_ipwatch/visits/1.1.1.1")
	if rec.Code != http.StatusOK {
		t.Errorf("unexpected status %d for a known IP", rec.Code)
	}

	rec = env.request("127.0.0.1", "/_ipwatch/visits/8.8.4.4")
	if rec.Code != http.StatusNotFound {
		t.Errorf("an unknown IP should result in 404 but got %d", rec.Code)
	}

	env.watch.Wait()
}

func TestLessIP(t *testing.T) {
	if !lessIP("2.0.0.1", "10.0.0.1") {
		t.Error("2.0.0.1 should sort before 10.0.0.1")
	}
	if !lessIP("10.0.0.1", "not-an-ip") {
		t.Error("IPs should sort before anything else")
	}
}
