package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuorum(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"75%", 75},
		{"minimum 60% approval", 60},
		{"20%", 50},
		{"150%", 100},
		{"50%", 50},
		{"999999999999999999999%", 100},
		{"quorum 00000000000000000000075%", 75},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseQuorum(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseQuorum("seventy")
	assert.ErrorIs(t, err, ErrInvalidQuorum)
}

func TestUnwrapData_NestedEnvelopes(t *testing.T) {
	inner := `{"project_id":"proj_1","recommendation":"approved","minimum_quorum":"70%"}`
	bodies := []string{
		`{"success":true,"data":` + inner + `}`,
		`{"success":true,"data":{"data":` + inner + `}}`,
		`{"success":true,"data":{"data":{"data":` + inner + `}}}`,
	}
	for i, body := range bodies {
		raw, err := unwrapData([]byte(body))
		require.NoError(t, err, "level %d", i+1)
		assert.JSONEq(t, inner, string(raw), "level %d", i+1)
	}

	_, err := unwrapData([]byte(`{"success":false,"error":"boom"}`))
	assert.Error(t, err)
}

func TestAnalyze_SendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proposals/analyze", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "proj_9", r.FormValue("project_id"))
		assert.Equal(t, "Build a school", r.FormValue("text"))

		f, hdr, err := r.FormFile("docs")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "plan.docx", hdr.Filename)
		assert.Equal(t, "docx-bytes", string(content))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"data":{
			"project_id":"proj_9","recommendation":"approved","fraud_score":12.5,
			"risk_level":"Low","minimum_quorum":"65%","key_reasons":["clear budget"]}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	a, err := c.Analyze(context.Background(), AnalysisInput{
		ProjectID: "proj_9",
		Text:      "Build a school",
		DocName:   "plan.docx",
		Doc:       strings.NewReader("docx-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "approved", a.Recommendation)
	assert.Equal(t, 65, a.QuorumPercent)
	assert.Equal(t, "Low", a.RiskLevel)
	assert.InDelta(t, 12.5, a.FraudScore, 0.001)
	assert.Equal(t, []string{"clear budget"}, a.KeyReasons)
}

func TestAnalyze_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Analyze(context.Background(), AnalysisInput{ProjectID: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "model offline")
}

func TestResult_FallsBackToMinimumQuorum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze/result/proj_3", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"recommendation":"rejected","minimum_quorum":"n/a"}}`))
	}))
	defer srv.Close()

	a, err := NewClient(srv.URL, time.Second).Result(context.Background(), "proj_3")
	require.NoError(t, err)
	assert.Equal(t, "rejected", a.Recommendation)
	assert.Equal(t, 50, a.QuorumPercent)
}
