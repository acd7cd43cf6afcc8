package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestPostgresStore runs the contract suite against a throwaway PostgreSQL container.
// Each subtest gets its own database so rows never leak between cases.
func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("witvis"),
		tcpostgres.WithUsername("witvis"),
		tcpostgres.WithPassword("witvis"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	admin, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	bootstrap, err := NewPostgres(ctx, admin)
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	pool := bootstrap.(*postgres).db
	t.Cleanup(func() { _ = Close(bootstrap) })

	n := 0
	runStoreContract(t, func(t *testing.T) Store {
		n++
		name := fmt.Sprintf("witvis_case_%d", n)
		if _, err := pool.Exec(ctx, "CREATE DATABASE "+name); err != nil {
			t.Fatalf("create database: %v", err)
		}
		cfg := pool.Config().ConnConfig
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", cfg.User, cfg.Password, cfg.Host, cfg.Port, name)
		s, err := NewPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("NewPostgres(%s) error = %v", name, err)
		}
		t.Cleanup(func() { _ = Close(s) })
		return s
	})
}
