package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

const (
	aliceKey   = "alice-key"
	aliceToken = "alice-token"
	adminToken = "admin-token"
)

type harness struct {
	verifier *fakeVerifier
	limiter  *fakeLimiter
	admitter *fakeAdmitter
	users    *fakeUsers
	keys     *fakeKeys
	tasks    *fakeTasks
	deps     Deps
	handler  http.Handler
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()

	alice := &models.User{ID: 1, UserName: "alice", Email: "alice@example.com", HashedPassword: "hash", Role: models.RoleNormal, IsActive: true}
	root := &models.User{ID: 2, UserName: "root", Role: models.RoleAdmin, IsActive: true}
	mallory := &models.User{ID: 3, UserName: "mallory", IsActive: false}

	v := newFakeVerifier()
	v.owners[alice.ID] = alice
	v.owners[mallory.ID] = mallory
	v.keys[aliceKey] = &models.APIKey{ID: 7, OwnerID: alice.ID, IsActive: true}
	v.keys["mallory-key"] = &models.APIKey{ID: 8, OwnerID: mallory.ID, IsActive: true}
	v.keyErrs["old-key"] = common.ErrExpiredCredential
	v.sessions[aliceToken] = session{user: alice}
	v.sessions[adminToken] = session{user: root, scopes: []auth.Scope{auth.ScopeAdmin}}

	h := &harness{
		verifier: v,
		limiter:  &fakeLimiter{},
		admitter: &fakeAdmitter{max: 512 * 1024},
		users:    &fakeUsers{users: map[int64]*models.User{alice.ID: alice}},
		keys:     &fakeKeys{},
		tasks:    &fakeTasks{tasks: map[int64]*models.Task{}},
	}
	h.deps = Deps{
		Verifier:  h.verifier,
		Limiter:   h.limiter,
		Admission: h.admitter,
		Users:     h.users,
		APIKeys:   h.keys,
		Tasks:     h.tasks,
		Logger:    nopLogger{},
	}
	for _, m := range mutate {
		m(&h.deps)
	}
	h.handler = NewServer(h.deps).Handler()
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func multipartBody(t *testing.T, field string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "image.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func classifyRequest(t *testing.T, key string, content []byte) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, "file", content)
	req := httptest.NewRequest(http.MethodPost, "/classify", body)
	req.Header.Set("Content-Type", ct)
	if key != "" {
		req.Header.Set(common.APIKeyHeaderName, key)
	}
	return req
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %q, want application/problem+json (body %s)", ct, rec.Body.String())
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}
