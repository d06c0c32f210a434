package storefront

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetch(t *testing.T) {
	var gotAuth, gotKey, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		switch r.URL.Path {
		case "/api/cart":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"ok":true}`))
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte("page " + r.URL.RequestURI()))
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	t.Run("relative url resolves against origin", func(t *testing.T) {
		c := NewClient(srv.URL)
		resp, err := c.Fetch(ctx, NewRequest(http.MethodGet, "products?id=1"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "page /products?id=1", string(resp.Body))
		assert.Empty(t, gotAuth)
	})

	t.Run("body headers and api key", func(t *testing.T) {
		c := NewClient("http://unused.invalid", WithBaseURL(srv.URL), WithAPIKey("sk-test"))
		req := NewRequest(http.MethodPost, srv.URL+"/api/cart")
		req.Header.Set("Content-Type", "application/json")
		req.Body = []byte(`{"sku":"a"}`)

		resp, err := c.Fetch(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sk-test", gotAuth)
		assert.Equal(t, "sk-test", gotKey)
		assert.Equal(t, "application/json", gotType)
		assert.Equal(t, `{"sku":"a"}`, gotBody)
	})

	t.Run("caller credentials win", func(t *testing.T) {
		c := NewClient(srv.URL, WithAPIKey("sk-test"))
		req := NewRequest(http.MethodGet, "/")
		req.Header.Set("Authorization", "Bearer user-token")
		_, err := c.Fetch(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "Bearer user-token", gotAuth)
	})

	t.Run("server error is a response", func(t *testing.T) {
		c := NewClient(srv.URL)
		resp, err := c.Fetch(ctx, NewRequest(http.MethodGet, "/boom"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
		assert.False(t, resp.OK())
	})
}

func TestClientFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.Fetch(context.Background(), NewRequest(http.MethodGet, "/slow"))
	assert.Error(t, err)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	_, err = NewClient(url).Fetch(context.Background(), NewRequest(http.MethodGet, "/"))
	assert.Error(t, err)
}

func TestFetcherFunc(t *testing.T) {
	f := FetcherFunc(func(_ context.Context, req *Request) (*Response, error) {
		return textResponse(http.StatusOK, req.Method), nil
	})
	resp, err := f.Fetch(context.Background(), NewRequest("", "/"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, string(resp.Body))
}
