package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/galchat/internal/config"
	"github.com/npezzotti/galchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GalChatApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GalChatApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

// echoIdentity writes the resolved identity as the response body.
var echoIdentity = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := Identity(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write([]byte(id))
})

func Test_identityMiddleware(t *testing.T) {
	app := &GalChatApp{
		log:        testutil.TestLogger(t),
		signingKey: testSigningKey,
	}
	handler := app.identityMiddleware(echoIdentity)

	t.Run("issues cookie for network address", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "10.1.2.3", rr.Body.String())
		assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))

		cookie := findCookie(rr, identityCookieKey)
		require.NotNil(t, cookie, "expected identity cookie")
		assert.True(t, cookie.HttpOnly)
	})

	t.Run("cookie keeps identity across addresses", func(t *testing.T) {
		token, err := app.createIdentityToken("10.1.2.3", identityExp)
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "172.16.0.9:1111"
		req.AddCookie(createJwtCookie(token, identityExp))
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "10.1.2.3", rr.Body.String())
		assert.Nil(t, findCookie(rr, identityCookieKey), "expected no new cookie")
	})

	t.Run("invalid cookie falls back to address", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "172.16.0.9:1111"
		req.AddCookie(&http.Cookie{Name: identityCookieKey, Value: "invalid-token"})
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "172.16.0.9", rr.Body.String())
		assert.NotNil(t, findCookie(rr, identityCookieKey), "expected cookie to be reissued")
	})
}

func TestProxyHeaders(t *testing.T) {
	tcases := []struct {
		name       string
		trustProxy bool
		expected   string
	}{
		{name: "trusted proxy", trustProxy: true, expected: "203.0.113.7"},
		{name: "untrusted proxy", trustProxy: false, expected: "10.0.0.1"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.Handle("GET /whoami", echoIdentity)
			app := NewGalChatApp(mux, testutil.TestLogger(t), Services{}, &config.Config{
				SigningKey: testSigningKey,
				TrustProxy: tc.trustProxy,
			})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			req.RemoteAddr = "10.0.0.1:8080"
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			app.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tc.expected, rr.Body.String())
		})
	}
}
