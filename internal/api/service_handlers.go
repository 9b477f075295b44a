package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/ai"
	"github.com/david/charity-dao/internal/faucet"
)

const maxUploadBytes = 20 << 20

// handleAnalyze forwards a proposal to the AI service and stores the
// resulting assessment.
func (s *Server) handleAnalyze(c echo.Context) error {
	projectID := strings.TrimSpace(c.FormValue("project_id"))
	if projectID == "" {
		return fail(http.StatusBadRequest, "project_id is required")
	}
	in := ai.AnalysisInput{ProjectID: projectID, Text: c.FormValue("text")}

	if fh, err := c.FormFile("docs"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return fail(http.StatusBadRequest, "Unable to read document")
		}
		defer f.Close()
		in.DocName, in.Doc = fh.Filename, io.LimitReader(f, maxUploadBytes)
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return fail(http.StatusBadRequest, "Invalid multipart form")
	}
	if in.Doc == nil && strings.TrimSpace(in.Text) == "" {
		return fail(http.StatusBadRequest, "text or docs is required")
	}

	ctx := c.Request().Context()
	a, err := s.ai.Analyze(ctx, in)
	if err != nil {
		s.logger.Warn("ai analysis failed", zap.String("project_id", projectID), zap.Error(err))
		return fail(http.StatusBadGateway, err.Error())
	}
	if a.ProjectID == "" {
		a.ProjectID = projectID
	}
	saved, err := s.store.SaveAnalysis(ctx, a)
	if err != nil {
		return err
	}
	return ok(c, saved)
}

func (s *Server) handleGetAnalysis(c echo.Context) error {
	a, err := s.store.GetAnalysis(c.Request().Context(), c.Param("projectId"))
	if err != nil {
		return err
	}
	return ok(c, a)
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(http.StatusBadRequest, "file is required")
	}
	if fh.Size > maxUploadBytes {
		return fail(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return fail(http.StatusBadRequest, "Unable to read file")
	}
	defer f.Close()

	pinned, err := s.ipfs.Upload(c.Request().Context(), fh.Filename, f)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"data": pinned,
		"url":  s.ipfs.GatewayURL(pinned.CID),
	})
}

func (s *Server) handleFaucet(c echo.Context) error {
	var req struct {
		To string `json:"to"`
	}
	_ = c.Bind(&req)

	res, err := s.faucet.Mint(c.Request().Context(), req.To)
	if errors.Is(err, faucet.ErrLimitReached) {
		return fail(http.StatusTooManyRequests, s.faucet.LimitMessage())
	}
	if err != nil {
		return err
	}
	res.ExplorerURL = s.network.TxURL(res.TxHash)
	return ok(c, res)
}

func (s *Server) handleNonce(c echo.Context) error {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	msg, err := s.auth.IssueNonce(c.Request().Context(), strings.TrimSpace(req.Address))
	if err != nil {
		return err
	}
	return ok(c, map[string]string{"message": msg})
}

func (s *Server) handleVerify(c echo.Context) error {
	var req struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "Invalid request body")
	}
	token, err := s.auth.Verify(c.Request().Context(), strings.TrimSpace(req.Address), req.Signature)
	if err != nil {
		return err
	}
	return ok(c, map[string]string{"token": token, "address": strings.ToLower(strings.TrimSpace(req.Address))})
}

// handleTriggerSync starts a snapshot sync in the background and returns
// immediately with a job id to poll.
func (s *Server) handleTriggerSync(c echo.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, envelope{
			Success: false,
			Error:   "A sync job is already running",
			Data:    map[string]string{"job_id": job.ID},
		})
	}

	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 10*time.Minute,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: s.now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		stats, err := s.syncer.Sync(jobCtx)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = s.now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			s.logger.Error("sync job failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		job.Status = "completed"
		job.Result = stats
		s.logger.Info("sync job completed", zap.String("job_id", jobID), zap.Int("requests", stats.Requests))
	}()

	return c.JSON(http.StatusAccepted, envelope{Success: true, Data: map[string]string{
		"message": "Sync job started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	}})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return fail(http.StatusNotFound, "job not found")
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return ok(c, resp)
}

func (s *Server) handleListSyncRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.store.ListSyncRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return ok(c, runs)
}
