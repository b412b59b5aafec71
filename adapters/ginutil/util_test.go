package ginutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/phoneauth/core"
	"github.com/open-rails/phoneauth/ratelimit"
)

func testContext(remoteAddr, forwardedFor string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/phone/start", nil)
	c.Request.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		c.Request.Header.Set("X-Forwarded-For", forwardedFor)
	}
	return c, w
}

func TestGuard_KeysByPeerAddress(t *testing.T) {
	g := Guard{Limiter: ratelimit.New(map[string]ratelimit.Limit{
		ratelimit.BucketPhoneStart: {Limit: 1, Window: time.Minute},
	})}

	c, _ := testContext("8.8.8.8:1234", "198.51.100.1")
	if !g.Allow(c, ratelimit.BucketPhoneStart) {
		t.Fatal("first request should pass")
	}
	c, w := testContext("8.8.8.8:1234", "198.51.100.2")
	if g.Allow(c, ratelimit.BucketPhoneStart) {
		t.Fatal("a new X-Forwarded-For value must not reset the limit")
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit 1, got %q", got)
	}
}

func TestGuard_ZeroValue(t *testing.T) {
	c, _ := testContext("8.8.8.8:1234", "")
	for i := 0; i < 3; i++ {
		if !(Guard{}).Allow(c, ratelimit.BucketPhoneStart) {
			t.Fatal("zero guard should not limit")
		}
	}
}

func TestStepErr(t *testing.T) {
	c, w := testContext("8.8.8.8:1234", "")
	err := &core.StepError{Kind: core.ErrInvalidCode, Step: core.StepVerifyChallenge, Err: errors.New("bad")}
	StepErr(c, err, core.Attempt{State: core.StateChallengeSent, Recoverable: true}, "tok")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
