package remote

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyro/internal/pkg/errors"
)

// fakeServer mimics the renderer HTTP contract.
func fakeServer(t *testing.T, resizable bool) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	w, h := 4, 2

	mux := http.NewServeMux()
	mux.HandleFunc("/renderSize", func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(rw).Encode(size{Width: w, Height: h})
		case http.MethodPut:
			if !resizable {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var s size
			require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
			w, h = s.Width, s.Height
			rw.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/render", func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == `{"bad":true}` {
			http.Error(rw, "scene failed", http.StatusUnprocessableEntity)
			return
		}
		mu.Lock()
		n := w * h * 4
		mu.Unlock()
		_, _ = rw.Write(make([]byte, n))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInitAndRender(t *testing.T) {
	srv := fakeServer(t, true)
	c := NewHTTPClient(srv.URL+"/", time.Second)

	require.NoError(t, c.Init("/ignored"))
	require.NoError(t, c.SetResolution(8, 8))

	w, h, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)

	frame, err := c.Render([]byte(`{"camera":{}}`))
	require.NoError(t, err)
	assert.Len(t, frame, 8*8*4)
	assert.NoError(t, c.Shutdown())
}

func TestRenderStatusError(t *testing.T) {
	c := NewHTTPClient(fakeServer(t, true).URL, time.Second)

	_, err := c.Render([]byte(`{"bad":true}`))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.NativeCode())
	assert.Equal(t, "scene failed", se.Body)
}

func TestSetResolutionFixedSize(t *testing.T) {
	c := NewHTTPClient(fakeServer(t, false).URL, time.Second)

	assert.NoError(t, c.SetResolution(4, 2), "matching size is accepted")

	err := c.SetResolution(8, 8)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "fixed at 4x2")
}

func TestInitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPClient(url, 100*time.Millisecond).Init("")
	assert.True(t, errors.IsResourceUnavailable(err))
}

func TestDefaultTimeout(t *testing.T) {
	c := NewHTTPClient("http://renderer", 0)
	assert.Equal(t, DefaultTimeout, c.client.Timeout)
	assert.Equal(t, "http://renderer", c.baseURL)
}
