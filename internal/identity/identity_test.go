package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imroc/req/v3"
)

const testUser = "4f1c2a9e-5b7d-4c1e-9a2b-0c3d4e5f6a7b"

func TestAttachAddsUserIDToEveryRequest(t *testing.T) {
	seen := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Query().Get(QueryParam)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := Attach(req.C().SetBaseURL(srv.URL), Static(testUser))
	for _, path := range []string{"/chat", "/chat/history/abc"} {
		if _, err := client.R().Get(path); err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		if got := <-seen; got != testUser {
			t.Fatalf("request %s: expected user id %s, got %q", path, testUser, got)
		}
	}
}

func TestAttachFailsWithoutIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request should not be sent")
	}))
	defer srv.Close()

	client := Attach(req.C().SetBaseURL(srv.URL), Static(""))
	if _, err := client.R().Get("/chat"); err == nil {
		t.Fatalf("expected error without identity")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", Middleware(), func(c *gin.Context) {
		id, ok := UserIDFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})

	cases := []struct {
		query  string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"?user_id=not-a-uuid", http.StatusBadRequest},
		{"?user_id=" + testUser, http.StatusOK},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami"+tc.query, nil))
		if rec.Code != tc.status {
			t.Fatalf("query %q: want %d got %d", tc.query, tc.status, rec.Code)
		}
		if tc.status == http.StatusOK && rec.Body.String() != testUser {
			t.Fatalf("unexpected user id %q", rec.Body.String())
		}
	}
}
