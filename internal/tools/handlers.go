package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bmerrors "github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/jobs"
	"github.com/vallancelee/biomcp/internal/model"
	"github.com/vallancelee/biomcp/internal/pipeline"
	"github.com/vallancelee/biomcp/internal/retrieval"
	"github.com/vallancelee/biomcp/internal/source"
	"github.com/vallancelee/biomcp/internal/watermark"
)

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return bmerrors.Validationf("invalid params: %v", err)
	}
	return nil
}

// --- ping -------------------------------------------------------------

type pingParams struct {
	Message string `json:"message,omitempty"`
}

type pingResult struct {
	Pong       string `json:"pong"`
	ServerTime string `json:"server_time"`
}

// PingHandler implements the liveness tool: `ping({message?}) →
// {pong, server_time}`.
type PingHandler struct {
	Now func() time.Time
}

func (h *PingHandler) Name() string          { return "ping" }
func (h *PingHandler) IsLongRunning() bool    { return false }
func (h *PingHandler) Timeout() time.Duration { return time.Second }

func (h *PingHandler) Validate(raw json.RawMessage) (any, error) {
	var p pingParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *PingHandler) Run(_ context.Context, params any) (any, error) {
	p := params.(pingParams)
	pong := p.Message
	if pong == "" {
		pong = "pong"
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}
	return pingResult{Pong: pong, ServerTime: now().UTC().Format(time.RFC3339)}, nil
}

// --- search -------------------------------------------------------------

// searchParams mirrors retrieval.Query's wire shape.
type searchParams struct {
	Query            string   `json:"query"`
	Limit            int      `json:"limit,omitempty"`
	Mode             string   `json:"mode,omitempty"`
	Alpha            *float64 `json:"alpha,omitempty"`
	Source           string   `json:"source,omitempty"`
	YearLow          int      `json:"year_low,omitempty"`
	YearHigh         int      `json:"year_high,omitempty"`
	Sections         []string `json:"sections,omitempty"`
	QualityThreshold float64  `json:"quality_threshold,omitempty"`
	BoostRecent      *bool    `json:"boost_recent,omitempty"`
	BoostClinical    *bool    `json:"boost_clinical,omitempty"`
	Return           string   `json:"return,omitempty"`
}

// SearchHandler implements the search tool over a
// retrieval.Engine.
type SearchHandler struct {
	Engine *retrieval.Engine
}

func (h *SearchHandler) Name() string          { return "search" }
func (h *SearchHandler) IsLongRunning() bool    { return false }
func (h *SearchHandler) Timeout() time.Duration { return 10 * time.Second }

func (h *SearchHandler) Validate(raw json.RawMessage) (any, error) {
	var p searchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, bmerrors.Validationf("query is required")
	}
	return p, nil
}

func (h *SearchHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(searchParams)

	boostRecent := true
	if p.BoostRecent != nil {
		boostRecent = *p.BoostRecent
	}
	boostClinical := true
	if p.BoostClinical != nil {
		boostClinical = *p.BoostClinical
	}

	q := retrieval.Query{
		Text:             p.Query,
		Limit:            p.Limit,
		Mode:             retrieval.Mode(p.Mode),
		Alpha:            p.Alpha,
		QualityThreshold: p.QualityThreshold,
		BoostRecent:      boostRecent,
		BoostClinical:    boostClinical,
		Return:           retrieval.Return(p.Return),
	}
	q.Filters.Source = p.Source
	q.Filters.YearLow = p.YearLow
	q.Filters.YearHigh = p.YearHigh
	for _, s := range p.Sections {
		q.Filters.Sections = append(q.Filters.Sections, model.Section(s))
	}

	result, err := h.Engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- get (get_by_uid) ----------------------------------------------------

type getParams struct {
	UID           string `json:"uid"`
	IncludeChunks bool   `json:"include_chunks,omitempty"`
}

type getResult struct {
	Document any `json:"document"`
	Chunks   any `json:"chunks,omitempty"`
}

// GetHandler implements the get tool (get_by_uid).
type GetHandler struct {
	Engine *retrieval.Engine
}

func (h *GetHandler) Name() string          { return "get" }
func (h *GetHandler) IsLongRunning() bool    { return false }
func (h *GetHandler) Timeout() time.Duration { return 5 * time.Second }

func (h *GetHandler) Validate(raw json.RawMessage) (any, error) {
	var p getParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.UID == "" {
		return nil, bmerrors.Validationf("uid is required")
	}
	return p, nil
}

func (h *GetHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(getParams)
	doc, chunks, err := h.Engine.GetByUID(ctx, p.UID, p.IncludeChunks)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, bmerrors.NotFoundf("document %q not found", p.UID)
	}
	return getResult{Document: doc, Chunks: chunks}, nil
}

// --- similar ---------------------------------------------------------------

type similarParams struct {
	UID   string `json:"uid"`
	Limit int    `json:"limit,omitempty"`
}

// SimilarHandler implements the similar tool: search seeded with a
// stored document's own text, excluding that document from the result.
type SimilarHandler struct {
	Engine *retrieval.Engine
}

func (h *SimilarHandler) Name() string          { return "similar" }
func (h *SimilarHandler) IsLongRunning() bool    { return false }
func (h *SimilarHandler) Timeout() time.Duration { return 10 * time.Second }

func (h *SimilarHandler) Validate(raw json.RawMessage) (any, error) {
	var p similarParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.UID == "" {
		return nil, bmerrors.Validationf("uid is required")
	}
	return p, nil
}

func (h *SimilarHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(similarParams)
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	result, err := h.Engine.SimilarTo(ctx, p.UID, limit)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- sync (long-running; executed only via the job API) -----------------

type syncParams struct {
	QueryKey    string `json:"query_key"`
	Term        string `json:"term"`
	OverlapDays int    `json:"overlap_days,omitempty"`
}

// SyncHandler declares the "sync" tool for the registry so invoke()
// can reject a synchronous call with a clear message; the
// actual work runs through NewSyncJobHandler, registered on the job
// queue instead.
type SyncHandler struct{}

func (h *SyncHandler) Name() string          { return "sync" }
func (h *SyncHandler) IsLongRunning() bool    { return true }
func (h *SyncHandler) Timeout() time.Duration { return 0 }

func (h *SyncHandler) Validate(raw json.RawMessage) (any, error) {
	var p syncParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.QueryKey == "" {
		return nil, bmerrors.Validationf("query_key is required")
	}
	return p, nil
}

// Run is never reached in steady state: Invoker rejects long-running
// tools before dispatch.
func (h *SyncHandler) Run(context.Context, any) (any, error) {
	return nil, bmerrors.New(bmerrors.Invariant, "sync dispatched synchronously; this must never happen")
}

// NewSyncJobHandler builds the jobs.Handler that actually drives an
// incremental sync pass: read the watermark window,
// fetch records in it, ingest each one, and advance the watermark to
// the latest EDAT seen. It is registered on a jobs.Queue under the
// "sync" tool name, separately from the (rejecting) synchronous
// SyncHandler above.
func NewSyncJobHandler(coordinator *pipeline.Coordinator, fetcher source.Fetcher, checkpoints *watermark.Store, defaultOverlapDays int) jobs.Handler {
	return func(ctx context.Context, raw json.RawMessage, progress func(percent int, stats string)) (json.RawMessage, error) {
		var p syncParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, bmerrors.Validationf("invalid sync params: %v", err)
		}
		overlap := p.OverlapDays
		if overlap == 0 {
			overlap = defaultOverlapDays
		}

		since, until, err := checkpoints.Window(ctx, p.QueryKey, overlap, time.Now())
		if err != nil {
			return nil, err
		}

		records, err := fetcher.Fetch(ctx, since, until)
		if err != nil {
			return nil, bmerrors.Wrap(bmerrors.Upstream, fmt.Errorf("fetch %s: %w", p.Term, err))
		}

		var latest time.Time
		ingested, changed := 0, 0
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return nil, bmerrors.Wrap(bmerrors.Timeout, err)
			}
			res, err := coordinator.IngestOne(ctx, rec)
			if err != nil {
				return nil, err
			}
			ingested++
			if res.Changed {
				changed++
			}
			if rec.EDAT.After(latest) {
				latest = rec.EDAT
			}
			if progress != nil && i%10 == 0 {
				progress(i*100/maxInt(len(records), 1), fmt.Sprintf("%d/%d ingested", i+1, len(records)))
			}
		}

		if !latest.IsZero() {
			if err := checkpoints.Advance(ctx, p.QueryKey, latest); err != nil {
				return nil, err
			}
		}

		out, err := json.Marshal(map[string]any{
			"query_key": p.QueryKey,
			"fetched":   len(records),
			"ingested":  ingested,
			"changed":   changed,
			"since":     since.UTC().Format(time.RFC3339),
			"until":     until.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, bmerrors.Wrap(bmerrors.Invariant, err)
		}
		return out, nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- checkpoint.get / checkpoint.set --------------------------------------

type checkpointGetParams struct {
	QueryKey string `json:"query_key"`
}

type checkpointGetResult struct {
	LastEDAT *string `json:"last_edat"`
}

// CheckpointGetHandler implements `checkpoint.get`.
type CheckpointGetHandler struct {
	Store *watermark.Store
}

func (h *CheckpointGetHandler) Name() string          { return "checkpoint.get" }
func (h *CheckpointGetHandler) IsLongRunning() bool    { return false }
func (h *CheckpointGetHandler) Timeout() time.Duration { return 5 * time.Second }

func (h *CheckpointGetHandler) Validate(raw json.RawMessage) (any, error) {
	var p checkpointGetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.QueryKey == "" {
		return nil, bmerrors.Validationf("query_key is required")
	}
	return p, nil
}

func (h *CheckpointGetHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(checkpointGetParams)
	ts, err := h.Store.Get(ctx, p.QueryKey)
	if err != nil {
		return nil, err
	}
	if ts.Unix() == 0 {
		return checkpointGetResult{LastEDAT: nil}, nil
	}
	formatted := ts.UTC().Format(time.RFC3339)
	return checkpointGetResult{LastEDAT: &formatted}, nil
}

type checkpointSetParams struct {
	QueryKey string `json:"query_key"`
	LastEDAT string `json:"last_edat"`
}

// CheckpointSetHandler implements the admin `checkpoint.set`.
type CheckpointSetHandler struct {
	Store *watermark.Store
}

func (h *CheckpointSetHandler) Name() string          { return "checkpoint.set" }
func (h *CheckpointSetHandler) IsLongRunning() bool    { return false }
func (h *CheckpointSetHandler) Timeout() time.Duration { return 5 * time.Second }

func (h *CheckpointSetHandler) Validate(raw json.RawMessage) (any, error) {
	var p checkpointSetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.QueryKey == "" {
		return nil, bmerrors.Validationf("query_key is required")
	}
	if p.LastEDAT == "" {
		return nil, bmerrors.Validationf("last_edat is required")
	}
	if _, err := time.Parse(time.RFC3339, p.LastEDAT); err != nil {
		return nil, bmerrors.Validationf("last_edat must be RFC3339: %v", err)
	}
	return p, nil
}

func (h *CheckpointSetHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(checkpointSetParams)
	ts, _ := time.Parse(time.RFC3339, p.LastEDAT)
	if err := h.Store.Set(ctx, p.QueryKey, ts); err != nil {
		return nil, err
	}
	return map[string]string{"query_key": p.QueryKey, "last_edat": p.LastEDAT}, nil
}

// --- jobs.get / jobs.cancel ------------------------------------------------

type jobsGetParams struct {
	JobID string `json:"job_id"`
}

// JobsGetHandler implements `jobs.get`.
type JobsGetHandler struct {
	Queue *jobs.Queue
}

func (h *JobsGetHandler) Name() string          { return "jobs.get" }
func (h *JobsGetHandler) IsLongRunning() bool    { return false }
func (h *JobsGetHandler) Timeout() time.Duration { return 5 * time.Second }

func (h *JobsGetHandler) Validate(raw json.RawMessage) (any, error) {
	var p jobsGetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.JobID == "" {
		return nil, bmerrors.Validationf("job_id is required")
	}
	return p, nil
}

func (h *JobsGetHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(jobsGetParams)
	job, err := h.Queue.Get(ctx, p.JobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// JobsCancelHandler implements `jobs.cancel`.
type JobsCancelHandler struct {
	Queue *jobs.Queue
}

func (h *JobsCancelHandler) Name() string          { return "jobs.cancel" }
func (h *JobsCancelHandler) IsLongRunning() bool    { return false }
func (h *JobsCancelHandler) Timeout() time.Duration { return 5 * time.Second }

func (h *JobsCancelHandler) Validate(raw json.RawMessage) (any, error) {
	var p jobsGetParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.JobID == "" {
		return nil, bmerrors.Validationf("job_id is required")
	}
	return p, nil
}

func (h *JobsCancelHandler) Run(ctx context.Context, params any) (any, error) {
	p := params.(jobsGetParams)
	if err := h.Queue.Cancel(ctx, p.JobID); err != nil {
		return nil, err
	}
	return map[string]string{"job_id": p.JobID, "state": "cancelled"}, nil
}
