package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	var gotUserID, gotEmail, gotCompany string
	router.GET("/protected", Auth(testSecret), func(c *gin.Context) {
		gotUserID = c.GetString("userID")
		gotEmail = c.GetString("userEmail")
		gotCompany = c.GetString("companyID")
		c.Status(http.StatusOK)
	})

	token := signToken(t, testSecret, jwt.MapClaims{
		"user_id":    "u1",
		"email":      "alice@example.com",
		"company_id": "c-claim",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Company-ID", "c-header")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", gotUserID)
	assert.Equal(t, "alice@example.com", gotEmail)

	// The header wins over the token claim
	assert.Equal(t, "c-header", gotCompany)
}

func TestAuthFallsBackToCompanyClaim(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	var gotCompany string
	router.GET("/protected", Auth(testSecret), func(c *gin.Context) {
		gotCompany = c.GetString("companyID")
		c.Status(http.StatusOK)
	})

	token := signToken(t, testSecret, jwt.MapClaims{
		"user_id":    "u1",
		"company_id": "c-claim",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-claim", gotCompany)
}

func TestAuthAcceptsQueryTokenForWebsockets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", Auth(testSecret), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	token := signToken(t, testSecret, jwt.MapClaims{"user_id": "u1"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", Auth(testSecret), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", signToken(t, "other-secret", jwt.MapClaims{"user_id": "u1"})},
		{"no user id", signToken(t, testSecret, jwt.MapClaims{"email": "alice@example.com"})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{
			"user_id": "u1",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}
