package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/statisticsnorway/rawdata-converter-boss/internal/jobid"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/store"
)

// registerJobRoutes wires up the job queue endpoints on the huma API.
// The /job/... paths are wire-compatible with the original converter
// controller; /jobs and /jobs/{id} are administrative reads.
//
//	HEAD /job/active/{source}/{id}     — is this job currently claimed
//	GET  /job/available                — claim next job, any source
//	GET  /job/available/{source}       — claim next job for one source
//	POST /job/available/{source}/{id}  — submit job with caller-supplied id
//	POST /job/available/{source}       — submit job, id generated
//	POST /job/done/{source}/{id}       — mark job done
//	GET  /jobs                         — list jobs (filter by source/status)
//	GET  /jobs/{id}                    — read one job regardless of status
func registerJobRoutes(api huma.API, s *store.Store) {
	huma.Register(api, huma.Operation{
		OperationID:   "check-job-active",
		Method:        http.MethodHead,
		Path:          "/job/active/{source}/{id}",
		Summary:       "Check whether a job is active",
		Description:   "Returns 200 while the job is claimed (status ACTIVE), 404 before claim and after completion.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusOK,
	}, checkJobActiveHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "claim-next-job",
		Method:      http.MethodGet,
		Path:        "/job/available",
		Summary:     "Claim the next available job from any source",
		Description: "Atomically transitions the oldest AVAILABLE job to ACTIVE and returns it. 404 when the queue is empty.",
		Tags:        []string{"Jobs"},
	}, claimNextAnyHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "claim-next-job-for-source",
		Method:      http.MethodGet,
		Path:        "/job/available/{source}",
		Summary:     "Claim the next available job for one source",
		Description: "As /job/available, restricted to jobs with the given source.",
		Tags:        []string{"Jobs"},
	}, claimNextForSourceHandler(s))

	huma.Register(api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/job/available/{source}/{id}",
		Summary:       "Submit a job with a caller-supplied id",
		Description:   "Creates an AVAILABLE job. The id must be a valid ULID; a duplicate id yields 409 and leaves the stored job untouched.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, submitJobHandler(s))

	huma.Register(api, huma.Operation{
		OperationID:   "submit-job-generated-id",
		Method:        http.MethodPost,
		Path:          "/job/available/{source}",
		Summary:       "Submit a job with a generated id",
		Description:   "Creates an AVAILABLE job under a freshly generated ULID and returns it.",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, submitJobGeneratedHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "notify-job-done",
		Method:      http.MethodPost,
		Path:        "/job/done/{source}/{id}",
		Summary:     "Mark a job done",
		Description: "Sets status DONE for the job matching (id, source). Idempotent: repeating the call succeeds as long as the job exists.",
		Tags:        []string{"Jobs"},
	}, notifyJobDoneHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Returns all jobs ordered by id ascending, optionally filtered by source and status.",
		Tags:        []string{"Jobs"},
	}, listJobsHandler(s))

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get a job by id",
		Description: "Returns the job regardless of its lifecycle status.",
		Tags:        []string{"Jobs"},
	}, getJobHandler(s))
}

// ── Response types ────────────────────────────────────────────────────────────

// JobBody is the wire representation of a job. Document is echoed exactly as
// it was submitted — the payload is opaque to this service.
type JobBody struct {
	ID        string          `json:"id" doc:"ULID job identifier"`
	Status    string          `json:"status" enum:"AVAILABLE,ACTIVE,DONE" doc:"Lifecycle status"`
	Source    string          `json:"source" doc:"Partition label of the producing system"`
	Document  json.RawMessage `json:"document" doc:"Opaque job payload, returned verbatim"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func jobToBody(j *store.Job) *JobBody {
	return &JobBody{
		ID:        j.ID,
		Status:    string(j.Status),
		Source:    j.Source,
		Document:  j.Document,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// JobOutput is the response envelope for endpoints returning a single job.
type JobOutput struct {
	Body *JobBody
}

// ── HEAD /job/active/{source}/{id} ────────────────────────────────────────────

// CheckJobActiveInput defines path parameters for the active check.
type CheckJobActiveInput struct {
	Source string `path:"source" doc:"Partition label"`
	ID     string `path:"id" doc:"ULID job identifier"`
}

func checkJobActiveHandler(s *store.Store) func(context.Context, *CheckJobActiveInput) (*struct{}, error) {
	return func(ctx context.Context, input *CheckJobActiveInput) (*struct{}, error) {
		id, err := jobid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id", err)
		}
		job, err := s.GetActiveBySourceAndID(ctx, input.Source, id)
		if err != nil {
			return nil, fmt.Errorf("check job active: %w", err)
		}
		if job == nil {
			return nil, huma.Error404NotFound("job is not active")
		}
		return &struct{}{}, nil
	}
}

// ── GET /job/available[/{source}] ─────────────────────────────────────────────

// ClaimNextInput defines the source path parameter for source-scoped claims.
// The unfiltered /job/available route takes no input at all: huma treats
// every path-tagged field as required, so the two routes need separate
// input types.
type ClaimNextInput struct {
	Source string `path:"source" doc:"Partition label; restricts the claim to one source"`
}

func claimNext(ctx context.Context, s *store.Store, source string) (*JobOutput, error) {
	job, err := s.ClaimNext(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound("no available job")
	}
	return &JobOutput{Body: jobToBody(job)}, nil
}

func claimNextAnyHandler(s *store.Store) func(context.Context, *struct{}) (*JobOutput, error) {
	return func(ctx context.Context, _ *struct{}) (*JobOutput, error) {
		return claimNext(ctx, s, "")
	}
}

func claimNextForSourceHandler(s *store.Store) func(context.Context, *ClaimNextInput) (*JobOutput, error) {
	return func(ctx context.Context, input *ClaimNextInput) (*JobOutput, error) {
		return claimNext(ctx, s, input.Source)
	}
}

// ── POST /job/available/{source}/{id} ─────────────────────────────────────────

// SubmitJobInput defines path parameters and the raw document body for job
// submission. RawBody keeps the payload byte-for-byte.
type SubmitJobInput struct {
	Source  string `path:"source" doc:"Partition label"`
	ID      string `path:"id" doc:"ULID job identifier supplied by the producer"`
	RawBody []byte `contentType:"application/json"`
}

func submitJobHandler(s *store.Store) func(context.Context, *SubmitJobInput) (*JobOutput, error) {
	return func(ctx context.Context, input *SubmitJobInput) (*JobOutput, error) {
		id, err := jobid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id", err)
		}
		doc, err := parseDocument(input.RawBody)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job document", err)
		}
		job, err := s.Create(ctx, id, input.Source, doc)
		if err != nil {
			return nil, fmt.Errorf("submit job: %w", err)
		}
		if job == nil {
			return nil, huma.Error409Conflict("a job with that id already exists")
		}
		return &JobOutput{Body: jobToBody(job)}, nil
	}
}

// ── POST /job/available/{source} ──────────────────────────────────────────────

// SubmitJobGeneratedInput defines the source path parameter and raw document
// body for submission with a server-generated id.
type SubmitJobGeneratedInput struct {
	Source  string `path:"source" doc:"Partition label"`
	RawBody []byte `contentType:"application/json"`
}

func submitJobGeneratedHandler(s *store.Store) func(context.Context, *SubmitJobGeneratedInput) (*JobOutput, error) {
	return func(ctx context.Context, input *SubmitJobGeneratedInput) (*JobOutput, error) {
		doc, err := parseDocument(input.RawBody)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job document", err)
		}
		job, err := s.CreateWithGeneratedID(ctx, input.Source, doc)
		if err != nil {
			return nil, fmt.Errorf("submit job: %w", err)
		}
		return &JobOutput{Body: jobToBody(job)}, nil
	}
}

// ── POST /job/done/{source}/{id} ──────────────────────────────────────────────

// NotifyJobDoneInput defines path parameters for the completion notification.
type NotifyJobDoneInput struct {
	Source string `path:"source" doc:"Partition label"`
	ID     string `path:"id" doc:"ULID job identifier"`
}

func notifyJobDoneHandler(s *store.Store) func(context.Context, *NotifyJobDoneInput) (*struct{}, error) {
	return func(ctx context.Context, input *NotifyJobDoneInput) (*struct{}, error) {
		id, err := jobid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id", err)
		}
		updated, err := s.MarkDone(ctx, input.Source, id)
		if err != nil {
			return nil, fmt.Errorf("notify job done: %w", err)
		}
		if !updated {
			return nil, huma.Error404NotFound("no job matches that source and id")
		}
		return &struct{}{}, nil
	}
}

// ── GET /jobs ─────────────────────────────────────────────────────────────────

// ListJobsInput defines query parameters for the job listing.
type ListJobsInput struct {
	Source string `query:"source" doc:"Filter by partition label"`
	Status string `query:"status" enum:"AVAILABLE,ACTIVE,DONE" required:"false" doc:"Filter by lifecycle status"`
}

// ListJobsOutput is the response body for GET /jobs.
type ListJobsOutput struct {
	Body *ListJobsBody
}

// ListJobsBody is the JSON body of the listing response.
type ListJobsBody struct {
	Jobs []JobBody `json:"jobs"`
}

func listJobsHandler(s *store.Store) func(context.Context, *ListJobsInput) (*ListJobsOutput, error) {
	return func(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
		var p store.ListParams
		if input.Source != "" {
			p.Source = &input.Source
		}
		if input.Status != "" {
			st, err := store.ParseStatus(input.Status)
			if err != nil {
				return nil, huma.Error400BadRequest("invalid status filter", err)
			}
			p.Status = &st
		}
		rows, err := s.ListJobs(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs := make([]JobBody, len(rows))
		for i := range rows {
			jobs[i] = *jobToBody(&rows[i])
		}
		return &ListJobsOutput{Body: &ListJobsBody{Jobs: jobs}}, nil
	}
}

// ── GET /jobs/{id} ────────────────────────────────────────────────────────────

// GetJobInput defines the path parameter for the single-job read.
type GetJobInput struct {
	ID string `path:"id" doc:"ULID job identifier"`
}

func getJobHandler(s *store.Store) func(context.Context, *GetJobInput) (*JobOutput, error) {
	return func(ctx context.Context, input *GetJobInput) (*JobOutput, error) {
		id, err := jobid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid job id", err)
		}
		job, err := s.ReadByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		if job == nil {
			return nil, huma.Error404NotFound("no such job")
		}
		return &JobOutput{Body: jobToBody(job)}, nil
	}
}

// parseDocument validates the submitted payload as JSON and returns it
// unchanged. The document's internal shape is never inspected.
func parseDocument(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("request body required")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
