package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrSessionNotFound) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"caller id kept", "abc-123_x.y", true},
		{"missing", "", false},
		{"bad characters", "a b\nc", false},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			r.ServeHTTP(w, req)

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			got := w.Header().Get("X-Request-ID")
			if got == "" || body.Metadata.RequestID != got {
				t.Fatalf("header %q, metadata %q", got, body.Metadata.RequestID)
			}
			if (got == tt.header) != tt.keep {
				t.Errorf("request id = %q", got)
			}
			if body.Error == nil || body.Error.Code != ErrSessionNotFound || body.Error.Message == "" {
				t.Errorf("error body = %+v", body.Error)
			}
		})
	}
}
