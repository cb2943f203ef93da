package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/config"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type env struct {
	store      *memStore
	runner     *memRunner
	manager    *memManager
	stager     *fakeStager
	dispatcher *fakeDispatcher
	signer     *auth.TokenSigner
	cfg        *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()

	signer, err := auth.NewTokenSigner("k", "HS256", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner error: %v", err)
	}

	store := newMemStore()
	return &env{
		store:      store,
		runner:     &memRunner{store: store},
		manager:    &memManager{store: store},
		stager:     newFakeStager(),
		dispatcher: &fakeDispatcher{},
		signer:     signer,
		cfg:        cfg,
	}
}

func (e *env) addUser(t *testing.T, name string, role models.Role, active bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword("pw-" + name)
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	u, err := (&memUsers{e.store}).Create(context.Background(), &models.User{
		UserName:       name,
		Email:          name + "@example.com",
		HashedPassword: hash,
		Role:           role,
		IsActive:       active,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *env) addKey(t *testing.T, owner int64, secret string, active bool, expires *time.Time) *models.APIKey {
	t.Helper()
	k, err := (&memKeys{e.store}).Create(context.Background(), &models.APIKey{
		OwnerID:   owner,
		KeyHash:   auth.HashAPIKey(secret),
		KeyPrefix: secret[:4],
		IsActive:  active,
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	return k
}

func (e *env) addTask(t *testing.T, owner, key int64, state models.TaskState, staged string) *models.Task {
	t.Helper()
	task, err := (&memTasks{s: e.store}).Create(context.Background(), &models.Task{
		OwnerID:    owner,
		APIKeyID:   key,
		State:      state,
		Result:     models.NoResult,
		StagedPath: staged,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if staged != "" {
		e.stager.files[staged] = []byte("x")
	}
	return task
}
