package ipfs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Pinned
	}{
		{"v3 data", `{"data":{"cid":"bafy1","id":"f1"}}`, Pinned{CID: "bafy1", ID: "f1"}},
		{"flat", `{"cid":"bafy2","id":"f2"}`, Pinned{CID: "bafy2", ID: "f2"}},
		{"legacy", `{"IpfsHash":"Qm3"}`, Pinned{CID: "Qm3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := normalize([]byte(`{"data":{}}`))
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "public", r.FormValue("network"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "proof.pdf", hdr.Filename)
		assert.Equal(t, "%PDF", string(b))
		_, _ = w.Write([]byte(`{"data":{"cid":"bafyproof","id":"abc"}}`))
	}))
	defer srv.Close()

	p := NewPinner(srv.URL, "jwt-token", "https://gateway.example/")
	got, err := p.Upload(context.Background(), "proof.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "bafyproof", got.CID)
	assert.Equal(t, "https://gateway.example/ipfs/bafyproof", p.GatewayURL(got.CID))
}

func TestUpload_NotConfigured(t *testing.T) {
	p := NewPinner("http://unused", "", "gateway.pinata.cloud")
	_, err := p.Upload(context.Background(), "a", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}
