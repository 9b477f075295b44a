package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/david/charity-dao/internal/models"
	"github.com/david/charity-dao/internal/status"
)

var (
	ErrInvalidQuorum = errors.New("invalid quorum format")
	ErrEmptyResult   = errors.New("analysis result is empty")
)

// Analyzer scores a proposal for fraud risk and recommends a quorum.
type Analyzer interface {
	Analyze(ctx context.Context, in AnalysisInput) (models.Analysis, error)
	Result(ctx context.Context, projectID string) (models.Analysis, error)
}

type AnalysisInput struct {
	ProjectID string
	Text      string
	DocName   string
	Doc       io.Reader
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// analysisPayload is the innermost object of the service response.
type analysisPayload struct {
	ProjectID      string   `json:"project_id"`
	Recommendation string   `json:"recommendation"`
	FraudScore     float64  `json:"fraud_score"`
	RiskLevel      string   `json:"risk_level"`
	MinimumQuorum  string   `json:"minimum_quorum"`
	KeyReasons     []string `json:"key_reasons"`
}

func (c *Client) Analyze(ctx context.Context, in AnalysisInput) (models.Analysis, error) {
	if strings.TrimSpace(in.ProjectID) == "" {
		return models.Analysis{}, fmt.Errorf("project_id is required")
	}
	req := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"project_id": in.ProjectID,
			"text":       in.Text,
		})
	if in.Doc != nil {
		name := in.DocName
		if name == "" {
			name = "proposal.docx"
		}
		req.SetFileReader("docs", name, in.Doc)
	}

	resp, err := req.Post("/api/proposals/analyze")
	if err != nil {
		return models.Analysis{}, fmt.Errorf("ai analysis request failed: %w", err)
	}
	return decodeAnalysis(resp)
}

func (c *Client) Result(ctx context.Context, projectID string) (models.Analysis, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("projectId", projectID).
		Get("/api/analyze/result/{projectId}")
	if err != nil {
		return models.Analysis{}, fmt.Errorf("ai result request failed: %w", err)
	}
	return decodeAnalysis(resp)
}

func decodeAnalysis(resp *resty.Response) (models.Analysis, error) {
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return models.Analysis{}, fmt.Errorf("ai analysis failed: %d %s - %s",
			resp.StatusCode(), http.StatusText(resp.StatusCode()), strings.TrimSpace(resp.String()))
	}

	raw, err := unwrapData(resp.Body())
	if err != nil {
		return models.Analysis{}, err
	}
	var p analysisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if p.Recommendation == "" && p.MinimumQuorum == "" {
		return models.Analysis{}, ErrEmptyResult
	}

	a := models.Analysis{
		ProjectID:      p.ProjectID,
		Recommendation: p.Recommendation,
		FraudScore:     p.FraudScore,
		RiskLevel:      p.RiskLevel,
		MinimumQuorum:  p.MinimumQuorum,
		KeyReasons:     p.KeyReasons,
	}
	if a.KeyReasons == nil {
		a.KeyReasons = []string{}
	}
	if q, err := ParseQuorum(p.MinimumQuorum); err == nil {
		a.QuorumPercent = q
	} else {
		a.QuorumPercent = status.MinQuorumPercent
	}
	return a, nil
}

// unwrapData descends through nested {"data": ...} envelopes, up to three
// levels deep, and returns the innermost object.
func unwrapData(body []byte) (json.RawMessage, error) {
	current := json.RawMessage(body)
	for depth := 0; depth < 3; depth++ {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(current, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode envelope: %w", err)
		}
		if ok, present := envelope["success"]; present && string(ok) == "false" {
			return nil, fmt.Errorf("ai service reported failure: %s", string(body))
		}
		inner, present := envelope["data"]
		if !present || string(inner) == "null" {
			return current, nil
		}
		current = inner
	}
	return current, nil
}

var quorumPattern = regexp.MustCompile(`(\d+)%`)

// ParseQuorum extracts NN from an "NN%" string and clamps it to the
// contract's accepted range.
func ParseQuorum(s string) (int, error) {
	m := quorumPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuorum, s)
	}
	n, err := strconv.Atoi(m[1])
	switch {
	case errors.Is(err, strconv.ErrRange):
		n = status.MaxQuorumPercent
	case err != nil:
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuorum, s)
	}
	return status.ClampQuorum(n), nil
}
