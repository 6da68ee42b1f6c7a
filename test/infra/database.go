// Package infra provisions the PostgreSQL database a stress run writes
// events and acknowledgments into.
package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	stressImage    = "postgres:16-alpine"
	stressDatabase = "corebridge_stress"
	stressRole     = "corebridge"
	localAddr      = "127.0.0.1:5432"
)

// ErrNoDatabase means neither a DSN, Docker, nor a local server is available.
var ErrNoDatabase = errors.New("infra: no postgres available")

// Database is where a stress run writes. Shared databases belong to someone
// else, so callers isolate their tables in a throwaway schema.
type Database struct {
	DSN    string
	Shared bool

	container *postgres.PostgresContainer
}

// Provision picks a database in order: explicit DSN, STRESS_TEST_PG_DSN, a
// fresh container when Docker answers, then a scratch database on a local
// server.
func Provision(ctx context.Context, dsn string) (*Database, error) {
	if dsn == "" {
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	}
	if dsn != "" {
		return &Database{DSN: dsn, Shared: true}, nil
	}
	if dockerAvailable(ctx) {
		return startContainer(ctx)
	}
	if pgReady() {
		return recreateLocal(ctx)
	}
	return nil, ErrNoDatabase
}

// Close stops the container if this run started one.
func (d *Database) Close(ctx context.Context) error {
	if d == nil || d.container == nil {
		return nil
	}
	return d.container.Terminate(ctx)
}

func startContainer(ctx context.Context) (*Database, error) {
	c, err := postgres.Run(ctx, stressImage,
		postgres.WithDatabase(stressDatabase),
		postgres.WithUsername(stressRole),
		postgres.WithPassword(stressRole),
	)
	if err != nil {
		return nil, fmt.Errorf("infra: start %s: %w", stressImage, err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("infra: container dsn: %w", err)
	}
	return &Database{DSN: dsn, container: c}, nil
}

// recreateLocal drops and recreates the stress database on a local server,
// trying the usual superuser logins.
func recreateLocal(ctx context.Context) (*Database, error) {
	user := os.Getenv("USER")
	logins := []string{"postgres", "postgres:postgres", user, user + ":postgres"}

	var (
		admin *pgx.Conn
		err   error
	)
	for _, login := range logins {
		admin, err = pgx.Connect(ctx, fmt.Sprintf("postgres://%s@%s/postgres?sslmode=disable", login, localAddr))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("infra: admin connect: %w", err)
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{stressRole}.Sanitize()
	db := pgx.Identifier{stressDatabase}.Sanitize()
	steps := []string{
		fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$`, role, stressRole),
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, stressDatabase),
		fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, db),
		fmt.Sprintf(`CREATE DATABASE %s OWNER %s`, db, role),
	}
	for _, sql := range steps {
		if _, err := admin.Exec(ctx, sql); err != nil {
			return nil, fmt.Errorf("infra: prepare %s: %w", stressDatabase, err)
		}
	}

	return &Database{
		DSN: fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", stressRole, stressRole, localAddr, stressDatabase),
	}, nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func pgReady() bool {
	return exec.Command("pg_isready", "-h", "127.0.0.1", "-p", "5432").Run() == nil
}
