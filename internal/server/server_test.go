package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ecofinds/internal/config"
	"github.com/sakif/ecofinds/internal/events"
	"github.com/sakif/ecofinds/internal/model"
)

var pngBytes = append([]byte("\x89PNG\x0D\x0A\x1A\x0A"), make([]byte, 32)...)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Port:           8080,
		DBPath:         ":memory:",
		UploadDir:      filepath.Join(t.TempDir(), "uploads"),
		MaxUploadBytes: 1 << 20,
		SessionSecret:  "server-test-secret-0123456789",
		SessionTTL:     time.Hour,
		LoginRate:      100,
		LogLevel:       "error",
		NATSSubject:    "ecofinds.purchases",
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, logger)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

// browser is an HTTP client with its own cookie jar that follows redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newBrowser(t *testing.T, ts *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: ts.URL, client: &http.Client{Jar: jar}}
}

// page is a response with its body read and the final path after redirects.
type page struct {
	status int
	path   string
	body   string
	header http.Header
}

func (b *browser) read(resp *http.Response, err error) page {
	b.t.Helper()
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return page{status: resp.StatusCode, path: resp.Request.URL.Path, body: string(body), header: resp.Header}
}

func (b *browser) get(path string) page {
	b.t.Helper()
	return b.read(b.client.Get(b.base + path))
}

func (b *browser) post(path string, form url.Values) page {
	b.t.Helper()
	return b.read(b.client.PostForm(b.base+path, form))
}

func (b *browser) postProduct(path string, fields map[string]string, filename string, data []byte) page {
	b.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(b.t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(b.t, err)
		_, err = fw.Write(data)
		require.NoError(b.t, err)
	}
	require.NoError(b.t, mw.Close())
	return b.read(b.client.Post(b.base+path, mw.FormDataContentType(), &body))
}

// signupAndLogin creates an account and signs in, returning the user id.
func (b *browser) signupAndLogin(username string) int64 {
	b.t.Helper()
	email := username + "@example.com"
	p := b.post("/signup", url.Values{
		"username":         {username},
		"email":            {email},
		"password":         {"secret123"},
		"confirm_password": {"secret123"},
	})
	require.Equal(b.t, "/login", p.path)

	p = b.post("/login", url.Values{"email": {email}, "password": {"secret123"}})
	require.Equal(b.t, http.StatusOK, p.status)
	require.True(b.t, strings.HasPrefix(p.path, "/dashboard/"), "landed on %s", p.path)
	id, err := strconv.ParseInt(strings.TrimPrefix(p.path, "/dashboard/"), 10, 64)
	require.NoError(b.t, err)
	return id
}

func (b *browser) apiProducts(query string) []model.Product {
	b.t.Helper()
	p := b.get("/api/products" + query)
	require.Equal(b.t, http.StatusOK, p.status)
	var out struct {
		Products []model.Product `json:"products"`
	}
	require.NoError(b.t, json.Unmarshal([]byte(p.body), &out))
	return out.Products
}

func TestMarketplaceFlow(t *testing.T) {
	srv, ts := newTestServer(t, testConfig(t))
	alice := newBrowser(t, ts)
	bob := newBrowser(t, ts)

	// Signup rejects a duplicate email.
	aliceID := alice.signupAndLogin("alice")
	p := bob.post("/signup", url.Values{
		"username":         {"alice-two"},
		"email":            {"alice@example.com"},
		"password":         {"secret123"},
		"confirm_password": {"secret123"},
	})
	assert.Equal(t, "/signup", p.path)
	assert.Contains(t, p.body, "Email already exists")

	// Login rejects a wrong password.
	p = bob.post("/login", url.Values{"email": {"alice@example.com"}, "password": {"wrong-password"}})
	assert.Equal(t, http.StatusUnauthorized, p.status)
	assert.Contains(t, p.body, "Invalid credentials")

	// A created product appears in the listing and detail view.
	p = alice.postProduct("/product/add", map[string]string{
		"title": "Vintage Bike", "description": "Blue frame", "category": "Sports", "price": "120",
	}, "bike.png", pngBytes)
	assert.Equal(t, "/", p.path)
	assert.Contains(t, p.body, "Product added!")
	assert.Contains(t, p.body, "Vintage Bike")

	products := alice.apiProducts("")
	require.Len(t, products, 1)
	bike := products[0]
	assert.Equal(t, aliceID, bike.UserID)
	require.True(t, bike.HasUpload())

	p = bob.get(fmt.Sprintf("/product/%d", bike.ID))
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Blue frame")
	assert.Contains(t, p.body, "120.00")

	img := bob.get("/uploads/" + bike.Image)
	assert.Equal(t, http.StatusOK, img.status)
	assert.Equal(t, "image/png", img.header.Get("Content-Type"))

	// Upload rejects disallowed extensions.
	p = alice.postProduct("/product/add", map[string]string{"title": "Script", "price": "1"}, "run.php", pngBytes)
	assert.Equal(t, "/product/add", p.path)
	assert.Contains(t, p.body, "Image must be a png, jpg, jpeg or gif file")
	assert.Len(t, alice.apiProducts(""), 1)

	// Cart, then the purchase transition.
	bobID := bob.signupAndLogin("bob")
	p = bob.get(fmt.Sprintf("/cart/add/%d/%d", bobID, bike.ID))
	assert.Equal(t, fmt.Sprintf("/cart/%d", bobID), p.path)
	assert.Contains(t, p.body, "Product added to cart!")
	assert.Contains(t, p.body, "Vintage Bike")

	p = bob.get(fmt.Sprintf("/purchase/%d/%d", bobID, bike.ID))
	assert.Equal(t, fmt.Sprintf("/purchases/%d", bobID), p.path)
	assert.Contains(t, p.body, "Purchase successful!")
	assert.Equal(t, 1, strings.Count(p.body, "Vintage Bike"))

	p = bob.get(fmt.Sprintf("/cart/%d", bobID))
	assert.Contains(t, p.body, "Your cart is empty.")

	// Repeated purchases create repeated rows.
	p = bob.get(fmt.Sprintf("/purchase/%d/%d", bobID, bike.ID))
	assert.Equal(t, 2, strings.Count(p.body, "Vintage Bike"))

	// Other users' carts are off limits.
	p = bob.get(fmt.Sprintf("/cart/%d", aliceID))
	assert.Equal(t, http.StatusForbidden, p.status)

	// Deleting a user cascades to their products and cart rows. Bob's
	// purchase history keeps what he paid.
	p = alice.post(fmt.Sprintf("/dashboard/%d/delete", aliceID), nil)
	assert.Equal(t, "/", p.path)
	assert.Contains(t, p.body, "Your account has been deleted")
	assert.Empty(t, bob.apiProducts(""))

	p = bob.get(fmt.Sprintf("/purchases/%d", bobID))
	assert.Equal(t, 2, strings.Count(p.body, "Vintage Bike"))
	assert.Contains(t, p.body, "no longer listed")
	assert.NotContains(t, p.body, fmt.Sprintf("/product/%d", bike.ID))

	_, err := os.Stat(filepath.Join(srv.images.Dir(), bike.Image))
	assert.True(t, os.IsNotExist(err), "uploaded image should be removed, stat err = %v", err)

	// The deleted account's session no longer works for protected pages.
	p = alice.get(fmt.Sprintf("/dashboard/%d", aliceID))
	assert.Equal(t, "/login", p.path)
}

func TestProtectedPagesRedirectToLogin(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := client.Get(ts.URL + "/cart/1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fcart%2F1", resp.Header.Get("Location"))

	resp, err = client.Get(ts.URL + "/api/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginIsRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.LoginRate = 2
	_, ts := newTestServer(t, cfg)
	b := newBrowser(t, ts)

	form := url.Values{"email": {"nobody@example.com"}, "password": {"whatever1"}}
	assert.Equal(t, http.StatusUnauthorized, b.post("/login", form).status)
	assert.Equal(t, http.StatusUnauthorized, b.post("/login", form).status)

	p := b.post("/login", form)
	assert.Equal(t, http.StatusTooManyRequests, p.status)
	assert.Equal(t, "60", p.header.Get("Retry-After"))

	// The form itself is still reachable.
	assert.Equal(t, http.StatusOK, b.get("/login").status)
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := testConfig(t)
	cfg.LoginRate = 2
	_, ts := newTestServer(t, cfg)

	form := url.Values{"email": {"nobody@example.com"}, "password": {"whatever1"}}
	throttled := 0
	for i := 0; i < 6; i++ {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/login", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled++
		}
	}
	assert.Equal(t, 4, throttled)
}

func TestStaticAndHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	b := newBrowser(t, ts)

	p := b.get("/healthz")
	assert.Equal(t, http.StatusOK, p.status)
	assert.JSONEq(t, `{"status":"ok"}`, p.body)

	p = b.get("/static/style.css")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.header.Get("Content-Type"), "text/css")

	assert.Equal(t, http.StatusNotFound, b.get("/static/").status)
	assert.Equal(t, http.StatusNotFound, b.get("/uploads/").status)
	assert.Equal(t, http.StatusNotFound, b.get("/uploads/missing.png").status)
}

func TestNewFailsOnBadUploadDir(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	cfg.UploadDir = filepath.Join(file, "uploads")

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNewDegradesWhenNATSIsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATSURL = "nats://127.0.0.1:1"

	srv, ts := newTestServer(t, cfg)
	assert.IsType(t, events.NopPublisher{}, srv.publisher)
	assert.Equal(t, http.StatusOK, newBrowser(t, ts).get("/healthz").status)
}
