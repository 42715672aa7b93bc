// ABOUTME: Integration tests for the job HTTP endpoints against a real Postgres.
// ABOUTME: Scenarios mirror the upstream converter job controller contract.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/statisticsnorway/rawdata-converter-boss/internal/api"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/config"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/jobid"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/store"
	"github.com/statisticsnorway/rawdata-converter-boss/internal/testutil"
)

// jobBody mirrors the wire representation of a job.
type jobBody struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Source   string          `json:"source"`
	Document json.RawMessage `json:"document"`
}

// newTestServer builds an httptest server over a migrated Postgres container.
func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s := testutil.NewTestStore(t)
	srv := httptest.NewServer(api.NewServer(s, &config.Config{}).Handler())
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, srv *httptest.Server, method, path string, body []byte) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body == nil {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) jobBody {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	var j jobBody
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode job body: %v", err)
	}
	return j
}

func TestCheckOnActiveJob(t *testing.T) {
	t.Parallel()
	srv, s := newTestServer(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, jobid.New(), "unknown",
		json.RawMessage(`{"storageRoot":"gs://bucket","topic":"colors","initialPosition":"FIRST"}`)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	// Take the job.
	resp := do(t, srv, http.MethodGet, "/job/available/unknown", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: got status %d, want 200", resp.StatusCode)
	}
	active := decodeJob(t, resp)

	// HEAD /job/active/unknown/{id} should return 200 while claimed.
	resp = do(t, srv, http.MethodHead, "/job/active/unknown/"+active.ID, nil)
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Errorf("HEAD active (claimed): got status %d, want 200", resp.StatusCode)
	}

	// Mark the job done.
	resp = do(t, srv, http.MethodPost, "/job/done/unknown/"+active.ID, nil)
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST done: got status %d, want 200", resp.StatusCode)
	}

	// HEAD /job/active/unknown/{id} should now return 404.
	resp = do(t, srv, http.MethodHead, "/job/active/unknown/"+active.ID, nil)
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("HEAD active (done): got status %d, want 404", resp.StatusCode)
	}
}

func TestClaimReturnsJobsInCreationOrder(t *testing.T) {
	t.Parallel()
	srv, s := newTestServer(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, jobid.New(), "sirius",
		json.RawMessage(`{"storageVersion":789,"topic":"cipot"}`)); err != nil {
		t.Fatalf("create first job: %v", err)
	}
	if _, err := s.Create(ctx, jobid.New(), "sirius",
		json.RawMessage(`{"storageVersion":456,"topic":"owlsinthemoss"}`)); err != nil {
		t.Fatalf("create second job: %v", err)
	}

	first := decodeJob(t, do(t, srv, http.MethodGet, "/job/available", nil))
	second := decodeJob(t, do(t, srv, http.MethodGet, "/job/available", nil))

	for i, j := range []jobBody{first, second} {
		if j.Status != "ACTIVE" {
			t.Errorf("claim %d: status = %s, want ACTIVE", i, j.Status)
		}
		if j.Source != "sirius" {
			t.Errorf("claim %d: source = %s, want sirius", i, j.Source)
		}
	}
	var firstDoc, secondDoc struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(first.Document, &firstDoc); err != nil {
		t.Fatalf("unmarshal first document: %v", err)
	}
	if err := json.Unmarshal(second.Document, &secondDoc); err != nil {
		t.Fatalf("unmarshal second document: %v", err)
	}
	if firstDoc.Topic != "cipot" || secondDoc.Topic != "owlsinthemoss" {
		t.Errorf("claims out of creation order: got topics %q then %q",
			firstDoc.Topic, secondDoc.Topic)
	}

	// No available jobs left; both claim routes report 404, not a
	// parameter-validation error.
	for _, path := range []string{"/job/available", "/job/available/sirius"} {
		resp := do(t, srv, http.MethodGet, path, nil)
		resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("claim on empty queue (%s): got status %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestCannotSubmitTwoJobsWithSameID(t *testing.T) {
	t.Parallel()
	srv, s := newTestServer(t)
	ctx := context.Background()

	const id = "01EGP23ATM1D9B6CGC84APEA1Q"
	path := "/job/available/altinn3/" + id

	resp := do(t, srv, http.MethodPost, path,
		[]byte(`{"storageVersion":88,"topic":"whatever","initialPosition":"FIRST"}`))
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first submit: got status %d, want 201", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, path,
		[]byte(`{"storageVersion":44,"topic":"pffft","initialPosition":"SECOND"}`))
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate submit: got status %d, want 409", resp.StatusCode)
	}

	// Exactly one job exists and it holds the first payload.
	all, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d jobs, want 1", len(all))
	}
	var doc struct {
		Topic          string `json:"topic"`
		StorageVersion int    `json:"storageVersion"`
	}
	if err := json.Unmarshal(all[0].Document, &doc); err != nil {
		t.Fatalf("unmarshal stored document: %v", err)
	}
	if doc.Topic != "whatever" || doc.StorageVersion != 88 {
		t.Errorf("stored document = %s, want the first submission's payload", all[0].Document)
	}
	if all[0].Status != store.StatusAvailable {
		t.Errorf("status = %s, want AVAILABLE", all[0].Status)
	}
}

func TestSubmitJobWithGeneratedID(t *testing.T) {
	t.Parallel()
	srv, s := newTestServer(t)
	ctx := context.Background()

	document := []byte(`{
		"storageRoot": "gs://bucket",
		"storagePath": "/tmp",
		"storageVersion": 42,
		"topic": "data",
		"initialPosition": "LAST",
		"pseudoConfig": {
			"debug": true,
			"rules": [{"name": "fodselsnummer", "pattern": "**/fodselsnummer", "func": "fpe-fnr(secret1)"}]
		}
	}`)

	resp := do(t, srv, http.MethodPost, "/job/available/freg", document)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: got status %d, want 201", resp.StatusCode)
	}
	created := decodeJob(t, resp)

	if !jobid.Valid(created.ID) {
		t.Errorf("generated id %q is not a valid ulid", created.ID)
	}
	if created.Status != "AVAILABLE" || created.Source != "freg" {
		t.Errorf("created job = (%s, %s), want (AVAILABLE, freg)", created.Status, created.Source)
	}

	stored, err := s.ReadByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("ReadByID: %v", err)
	}
	if stored == nil {
		t.Fatal("submitted job not found in store")
	}
	var got, want any
	if err := json.Unmarshal(stored.Document, &got); err != nil {
		t.Fatalf("unmarshal stored document: %v", err)
	}
	if err := json.Unmarshal(document, &want); err != nil {
		t.Fatalf("unmarshal submitted document: %v", err)
	}
	if gotJSON, wantJSON := mustJSON(t, got), mustJSON(t, want); gotJSON != wantJSON {
		t.Errorf("stored document = %s, want %s", gotJSON, wantJSON)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	// Malformed id.
	resp := do(t, srv, http.MethodPost, "/job/available/freg/not-an-ulid",
		[]byte(`{"topic":"x"}`))
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id: got status %d, want 400", resp.StatusCode)
	}

	// Malformed document.
	resp = do(t, srv, http.MethodPost, "/job/available/freg/"+jobid.New(),
		[]byte(`{"topic":`))
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed document: got status %d, want 400", resp.StatusCode)
	}

	// Missing document.
	resp = do(t, srv, http.MethodPost, "/job/available/freg/"+jobid.New(), nil)
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing document: got status %d, want 400", resp.StatusCode)
	}

	// Malformed id on the active check.
	resp = do(t, srv, http.MethodHead, "/job/active/freg/not-an-ulid", nil)
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id on HEAD: got status %d, want 400", resp.StatusCode)
	}
}

func TestListAndGetJobs(t *testing.T) {
	t.Parallel()
	srv, s := newTestServer(t)
	ctx := context.Background()

	idA, err := s.CreateWithGeneratedID(ctx, "a", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := s.CreateWithGeneratedID(ctx, "b", json.RawMessage(`{"n":2}`)); err != nil {
		t.Fatalf("create b: %v", err)
	}

	resp := do(t, srv, http.MethodGet, "/jobs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /jobs: got status %d, want 200", resp.StatusCode)
	}
	var listing struct {
		Jobs []jobBody `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	resp.Body.Close() //nolint:errcheck
	if len(listing.Jobs) != 2 {
		t.Fatalf("listing has %d jobs, want 2", len(listing.Jobs))
	}

	resp = do(t, srv, http.MethodGet, "/jobs?source=a", nil)
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode filtered listing: %v", err)
	}
	resp.Body.Close() //nolint:errcheck
	if len(listing.Jobs) != 1 || listing.Jobs[0].ID != idA.ID {
		t.Errorf("source filter returned %+v, want exactly job %s", listing.Jobs, idA.ID)
	}

	resp = do(t, srv, http.MethodGet, "/jobs/"+idA.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /jobs/{id}: got status %d, want 200", resp.StatusCode)
	}
	got := decodeJob(t, resp)
	if got.ID != idA.ID {
		t.Errorf("GET /jobs/{id} returned %s, want %s", got.ID, idA.ID)
	}

	resp = do(t, srv, http.MethodGet, "/jobs/"+jobid.New(), nil)
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /jobs/{unknown}: got status %d, want 404", resp.StatusCode)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
