package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/timmy/clipsearch/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		wantCredent string
	}{
		{"allow all", CORSConfig{AllowAllOrigins: true}, http.MethodGet, "https://a.example", http.StatusOK, "*", ""},
		{"listed origin", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, http.MethodGet, "https://A.example", http.StatusOK, "https://A.example", "true"},
		{"unlisted origin", CORSConfig{AllowedOrigins: []string{"https://a.example"}}, http.MethodGet, "https://b.example", http.StatusOK, "", ""},
		{"no origin header", CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodGet, "", http.StatusOK, "", ""},
		{"preflight", CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodOptions, "https://c.example", http.StatusNoContent, "https://c.example", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.cfg))
			r.Handle(tt.method, "/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredent {
				t.Errorf("allow-credentials = %q, want %q", got, tt.wantCredent)
			}
		})
	}
}

func TestLoggerMiddlewareRequestID(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"generated", "", false},
		{"reused", "req-123", true},
		{"too long", string(long), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			r := gin.New()
			r.Use(LoggerMiddleware("test"))
			r.GET("/x", func(c *gin.Context) {
				seen = logger.GetRequestID(c.Request.Context())
				if GetLogger(c) == nil {
					t.Error("GetLogger returned nil")
				}
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header = %q, context = %q", got, seen)
			}
			if (got == tt.incoming) != tt.reuse {
				t.Errorf("request id %q, incoming %q, reuse = %v", got, tt.incoming, tt.reuse)
			}
		})
	}
}
