// ABOUTME: Tests for the CORS policy built from configured origins
// ABOUTME: Wildcard origins never carry credentials; explicit lists do

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name            string
		origins         []string
		wantAll         bool
		wantCredentials bool
	}{
		{"empty list", nil, true, false},
		{"wildcard", []string{"*"}, true, false},
		{"wildcard among others", []string{"http://a.example", "*"}, true, false},
		{"explicit origins", []string{"http://a.example", "http://b.example"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := corsConfig(tt.origins)
			assert.Equal(t, tt.wantAll, cfg.AllowAllOrigins)
			assert.Equal(t, tt.wantCredentials, cfg.AllowCredentials)
			if !tt.wantAll {
				assert.Equal(t, tt.origins, cfg.AllowOrigins)
			}
		})
	}
}

func TestCORSWildcardPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(cors.New(corsConfig([]string{"*"})))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
