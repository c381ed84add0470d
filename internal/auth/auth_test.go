package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func testIssuer(now time.Time) Issuer {
	return Issuer{
		Name:       "qrattend",
		Key:        []byte("test-key"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Now:        func() time.Time { return now },
	}
}

func TestIssueAndParse(t *testing.T) {
	iss := testIssuer(time.Now())
	pair, err := iss.Issue("21CS001", RoleStudent, "CS")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := iss.Parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "21CS001" || claims.Role != RoleStudent || claims.Dept != "CS" || claims.Type != typeAccess {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Now()
	iss := testIssuer(now)
	pair, _ := iss.Issue("faculty@institution.edu", RoleAdmin, "")

	other := iss
	other.Key = []byte("other-key")
	if _, err := other.Parse(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key err = %v", err)
	}

	foreign := iss
	foreign.Name = "someone-else"
	if _, err := foreign.Parse(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer err = %v", err)
	}

	later := testIssuer(now.Add(time.Hour))
	if _, err := later.Parse(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err = %v", err)
	}
}

func TestRefresh(t *testing.T) {
	iss := testIssuer(time.Now())
	pair, _ := iss.Issue("21CS001", RoleStudent, "CS")

	if _, err := iss.Refresh(pair.AccessToken); !errors.Is(err, ErrWrongTokenUse) {
		t.Fatalf("refresh with access token err = %v", err)
	}
	next, err := iss.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := iss.Parse(next.AccessToken)
	if err != nil || claims.Subject != "21CS001" || claims.Dept != "CS" {
		t.Fatalf("refreshed claims = %+v, %v", claims, err)
	}
}

func TestRequire(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := testIssuer(time.Now())
	admin, _ := iss.Issue("faculty@institution.edu", RoleAdmin, "")
	student, _ := iss.Issue("21CS001", RoleStudent, "CS")

	r := gin.New()
	r.GET("/admin", Require(iss, RoleAdmin), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + admin.RefreshToken, http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"admin", "Bearer " + admin.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAdminCheck(t *testing.T) {
	a, err := NewAdmin("Faculty@Institution.edu", "", "faculty123")
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	if err := a.Check("faculty@institution.edu", "faculty123"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := a.Check("faculty@institution.edu", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if err := a.Check("other@institution.edu", "faculty123"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("wrong email err = %v", err)
	}

	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	b, err := NewAdmin("faculty@institution.edu", string(hash), "ignored")
	if err != nil {
		t.Fatalf("NewAdmin with hash: %v", err)
	}
	if err := b.Check("faculty@institution.edu", "s3cret"); err != nil {
		t.Fatalf("Check with hash: %v", err)
	}
	if _, err := NewAdmin("x@y.z", "", ""); err == nil {
		t.Fatal("expected error without password")
	}
}
