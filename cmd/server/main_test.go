package main

import (
	"context"
	"testing"

	"bengkelku/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{name: "missing secret", secret: "", wantErr: true},
		{name: "short secret", secret: "too-short", wantErr: true},
		{name: "strong secret", secret: "0123456789abcdef0123456789abcdef", wantErr: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(config.Config{AuthSecret: tc.secret})
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildRepositoryFallsBackToMemory(t *testing.T) {
	repo, closer, err := buildRepository(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo == nil {
		t.Fatal("expected a repository")
	}
	if closer != nil {
		t.Fatal("in-memory store needs no closer")
	}
}

func TestBuildSummaryCacheWithoutRedis(t *testing.T) {
	summaryCache, closer := buildSummaryCache(context.Background(), config.Config{})
	if summaryCache == nil {
		t.Fatal("expected a cache implementation")
	}
	if closer != nil {
		t.Fatal("noop cache needs no closer")
	}
}
