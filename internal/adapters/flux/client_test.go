package flux

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/apexgen/jobmanager/internal/errors"
)

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	assert.NoError(t, ValidateImage(pngImage(t, 512, 512)))

	tests := map[string][]byte{
		"empty":        nil,
		"not an image": []byte("plain text, definitely not a portrait"),
		"too large":    pngImage(t, MaxEdge+1, 512),
		"too small":    pngImage(t, 512, MinEdge-1),
	}
	for name, img := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidateImage(img)
			require.Error(t, err)
			assert.True(t, apperrors.IsUpstream(err, apperrors.UpstreamImageRender))
		})
	}
}

func TestRenderSuccess(t *testing.T) {
	rendered := pngImage(t, 256, 256)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(16<<20))

		assert.Equal(t, "studio portrait, soft lighting", r.FormValue("prompt"))
		assert.Equal(t, "2.5", r.FormValue("guidance_scale"))

		file, _, err := r.FormFile("image_file")
		require.NoError(t, err)
		defer file.Close()

		_ = json.NewEncoder(w).Encode(map[string]string{
			"image_base64": base64.StdEncoding.EncodeToString(rendered),
		})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL})
	got, err := client.Render(context.Background(), pngImage(t, 512, 512), "studio portrait, soft lighting")
	require.NoError(t, err)
	assert.Equal(t, rendered, got)
}

func TestRenderUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "GPU memory overflow", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := client.Render(context.Background(), pngImage(t, 512, 512), "p")
	require.Error(t, err)

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
}

func TestRenderFailsFastWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := client.Render(context.Background(), []byte("garbage"), "p")
	require.Error(t, err)
	assert.False(t, called, "remote service must not be called for invalid input")
}

func TestRenderBadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"image_base64": "!!not-base64!!"})
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{BaseURL: srv.URL})
	_, err := client.Render(context.Background(), pngImage(t, 512, 512), "p")
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err, apperrors.UpstreamImageRender))
}
