package integration

import (
	"context"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/yaml.v3"

	"github.com/molly1022/TMS-Dashboard/client"
)

type env struct {
	base   string
	bearer string
	gw     *client.HTTPGateway
}

// testToken signs a token for a board-api running with AUTH0_TEST_MODE=1.
func testToken(userID string) (string, error) {
	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		secret = "testsecret"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"name":  "Integration " + userID,
		"email": userID + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
}

func newEnv(t *testing.T, userID string) *env {
	t.Helper()
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	resp.Body.Close()
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		tok, err := testToken(userID)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		bearer = tok
	}
	return &env{base: base, bearer: bearer, gw: client.NewHTTPGateway(base, bearer, nil)}
}

func (e *env) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+e.bearer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, sonic.Unmarshal(data, out)
}

// poll retries fn until it reports done or the timeout passes.
func poll(t *testing.T, timeout time.Duration, what string, fn func() (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	backoff := 200 * time.Millisecond
	for {
		ok, err := fn()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s: %v", what, err)
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// feedSLA reads the activity visibility budget from config.test.yaml.
func feedSLA() time.Duration {
	sla := 10 * time.Second
	data, err := os.ReadFile("config.test.yaml")
	if err != nil {
		return sla
	}
	var cfg struct {
		FeedSLAMs int `yaml:"activity_visibility_sla_ms"`
	}
	if err := yaml.Unmarshal(data, &cfg); err == nil && cfg.FeedSLAMs > 0 {
		sla = time.Duration(cfg.FeedSLAMs) * time.Millisecond
	}
	return sla
}
