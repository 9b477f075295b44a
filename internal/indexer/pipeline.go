package indexer

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/models"
	"github.com/david/charity-dao/internal/status"
)

// Source is the part of chain.Reader the sync needs.
type Source interface {
	EnsureNetwork(ctx context.Context) error
	GetAllRequests(ctx context.Context) ([]models.Request, error)
	GetAllProjects(ctx context.Context) ([]models.Project, error)
	GetActivities(ctx context.Context) ([]models.Activity, error)
}

type Sink interface {
	ReplaceSnapshot(ctx context.Context, snap db.Snapshot) error
	StartSyncRun(ctx context.Context) (uuid.UUID, error)
	FinishSyncRun(ctx context.Context, run models.SyncRun) error
}

type Stats struct {
	RunID           uuid.UUID                    `json:"run_id"`
	Requests        int                          `json:"requests"`
	Projects        int                          `json:"projects"`
	Activities      int                          `json:"activities"`
	RequestStatuses map[status.RequestStatus]int `json:"request_statuses"`
	ProjectStatuses map[status.ProjectStatus]int `json:"project_statuses"`
	Duration        time.Duration                `json:"duration"`
}

type Pipeline struct {
	source  Source
	sink    Sink
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(source Source, sink Sink, metrics *Metrics, logger *zap.Logger) *Pipeline {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		source:  source,
		sink:    sink,
		metrics: metrics,
		logger:  logger.Named("indexer"),
		now:     time.Now,
	}
}

// Sync reads the full contract state and replaces the stored snapshot.
func (p *Pipeline) Sync(ctx context.Context) (Stats, error) {
	start := p.now()
	p.metrics.syncs.Inc()

	stats := Stats{}
	runID, err := p.sink.StartSyncRun(ctx)
	if err != nil {
		p.logger.Warn("failed to create sync run", zap.Error(err))
	}
	stats.RunID = runID

	err = p.sync(ctx, &stats)

	run := models.SyncRun{
		RunID:      runID,
		Status:     models.SyncCompleted,
		Requests:   stats.Requests,
		Projects:   stats.Projects,
		Activities: stats.Activities,
	}
	if err != nil {
		run.Status = models.SyncFailed
		run.Error = err.Error()
		p.metrics.failures.Inc()
	}
	if runID != uuid.Nil {
		// record the outcome even if ctx was cancelled mid-sync
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if ferr := p.sink.FinishSyncRun(finishCtx, run); ferr != nil {
			p.logger.Warn("failed to finish sync run", zap.Stringer("run_id", runID), zap.Error(ferr))
		}
		cancel()
	}

	stats.Duration = p.now().Sub(start)
	p.metrics.duration.Observe(stats.Duration.Seconds())
	if err != nil {
		return stats, err
	}
	p.metrics.lastSuccess.Set(float64(p.now().Unix()))
	return stats, nil
}

func (p *Pipeline) sync(ctx context.Context, stats *Stats) error {
	if err := p.source.EnsureNetwork(ctx); err != nil {
		return err
	}
	reqs, err := p.source.GetAllRequests(ctx)
	if err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	projects, err := p.source.GetAllProjects(ctx)
	if err != nil {
		return fmt.Errorf("reading projects: %w", err)
	}
	activities, err := p.source.GetActivities(ctx)
	if err != nil {
		return fmt.Errorf("reading activities: %w", err)
	}

	created := make(map[string]time.Time, len(activities))
	for i := range activities {
		a := &activities[i]
		a.Title = CleanText(a.Title)
		a.Description = CleanText(a.Description)
		created[a.Kind+":"+a.ID] = a.CreatedAt
	}
	for i := range reqs {
		r := &reqs[i]
		*r = CleanRequest(*r)
		if t, ok := created[models.ActivityRequest+":"+r.ID]; ok {
			r.CreatedAt = &t
		}
	}
	for i := range projects {
		pr := &projects[i]
		*pr = CleanProject(*pr)
		if t, ok := created[models.ActivityProject+":"+pr.ID]; ok {
			pr.CreatedAt = &t
		}
	}

	if err := p.sink.ReplaceSnapshot(ctx, db.Snapshot{Requests: reqs, Projects: projects, Activities: activities}); err != nil {
		return err
	}

	stats.Requests, stats.Projects, stats.Activities = len(reqs), len(projects), len(activities)
	stats.RequestStatuses = status.CountRequests(reqs, p.now())
	stats.ProjectStatuses = status.CountProjects(projects)
	p.metrics.observeStatuses(stats.RequestStatuses, stats.ProjectStatuses)
	return nil
}

var textPolicy = bluemonday.StrictPolicy()

// CleanText strips markup from contract-supplied text and drops invalid
// UTF-8 that Postgres would reject. The result is plain text: entities
// escaped by the sanitizer are decoded again.
func CleanText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func CleanRequest(r models.Request) models.Request {
	r.Description = CleanText(r.Description)
	return r
}

func CleanProject(p models.Project) models.Project {
	p.Title = CleanText(p.Title)
	p.Description = CleanText(p.Description)
	return p
}

// Run syncs once immediately and then every interval until ctx is done.
// Failures are logged and retried on the next tick.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := p.Sync(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("sync failed", zap.Error(err))
		} else {
			p.logger.Info("sync completed",
				zap.Int("requests", stats.Requests),
				zap.Int("projects", stats.Projects),
				zap.Int("activities", stats.Activities),
				zap.Duration("duration", stats.Duration))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
