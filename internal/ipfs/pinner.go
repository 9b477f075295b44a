package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotConfigured = errors.New("PINATA_JWT not configured")

// Pinned is the normalized upload result.
type Pinned struct {
	CID string `json:"cid"`
	ID  string `json:"id"`
}

type Pinner struct {
	http      *resty.Client
	uploadURL string
	jwt       string
	gateway   string
}

func NewPinner(uploadURL, jwt, gateway string) *Pinner {
	return &Pinner{
		http:      resty.New().SetTimeout(2 * time.Minute),
		uploadURL: uploadURL,
		jwt:       jwt,
		gateway:   strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(gateway, "https://"), "http://"), "/"),
	}
}

// Upload pins a single file publicly and returns its CID.
func (p *Pinner) Upload(ctx context.Context, name string, r io.Reader) (Pinned, error) {
	if p.jwt == "" {
		return Pinned{}, ErrNotConfigured
	}
	if name == "" {
		name = "upload"
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(p.jwt).
		SetFormData(map[string]string{"network": "public"}).
		SetFileReader("file", name, r).
		Post(p.uploadURL)
	if err != nil {
		return Pinned{}, fmt.Errorf("pinata upload failed: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return Pinned{}, fmt.Errorf("pinata upload failed: %d %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return normalize(resp.Body())
}

type pinResponse struct {
	Data *struct {
		CID string `json:"cid"`
		ID  string `json:"id"`
	} `json:"data"`
	CID      string `json:"cid"`
	ID       string `json:"id"`
	IpfsHash string `json:"IpfsHash"`
}

// normalize accepts the v3 {data:{cid,id}} shape as well as flat {cid,id}
// and the legacy {IpfsHash} shape.
func normalize(body []byte) (Pinned, error) {
	var pr pinResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Pinned{}, fmt.Errorf("invalid pinata response: %w", err)
	}

	var out Pinned
	if pr.Data != nil && pr.Data.CID != "" {
		out = Pinned{CID: pr.Data.CID, ID: pr.Data.ID}
	} else {
		out.CID = pr.CID
		if out.CID == "" {
			out.CID = pr.IpfsHash
		}
		out.ID = pr.ID
	}
	if out.CID == "" {
		return Pinned{}, errors.New("pinata response missing cid")
	}
	return out, nil
}

// GatewayURL is the public HTTP address of a pinned CID.
func (p *Pinner) GatewayURL(cid string) string {
	return fmt.Sprintf("https://%s/ipfs/%s", p.gateway, cid)
}
