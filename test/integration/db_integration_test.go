package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/joshu-sajeev/resumeflow/internal/storage/postgres"
	_ "github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	testDB   *sql.DB
	testPort string
)

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}
	pool.MaxWait = 60 * time.Second

	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	pg, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17-alpine",
		Env: []string{
			"POSTGRES_USER=testuser",
			"POSTGRES_PASSWORD=testpass",
			"POSTGRES_DB=resumeflow",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start postgres container: %s", err)
	}

	testPort = pg.GetPort("5432/tcp")
	dsn := fmt.Sprintf(
		"host=localhost user=testuser password=testpass dbname=resumeflow port=%s sslmode=disable TimeZone=UTC",
		testPort,
	)

	if err := pool.Retry(func() error {
		var err error
		testDB, err = sql.Open("postgres", dsn)
		if err != nil {
			return err
		}
		if err := testDB.Ping(); err != nil {
			testDB.Close()
			return err
		}
		return postgres.Migrate(testDB)
	}); err != nil {
		log.Fatalf("Could not prepare postgres: %s", err)
	}

	os.Setenv("POSTGRES_USER", "testuser")
	os.Setenv("POSTGRES_PASSWORD", "testpass")
	os.Setenv("POSTGRES_DB", "resumeflow")
	os.Setenv("POSTGRES_HOST", "localhost")
	os.Setenv("POSTGRES_PORT", testPort)
	os.Setenv("DB_MAX_RETRIES", "3")
	os.Setenv("DB_RETRY_DELAY", "100ms")
	os.Setenv("DB_LOG_LEVEL", "silent")

	code := m.Run()

	testDB.Close()
	if err := pool.Purge(pg); err != nil {
		log.Fatalf("Could not purge postgres container: %s", err)
	}
	os.Exit(code)
}

func testConfig() *postgres.Config {
	return &postgres.Config{
		User:           "testuser",
		Password:       "testpass",
		Host:           "localhost",
		Port:           testPort,
		Database:       "resumeflow",
		MaxRetries:     3,
		RetryDelay:     100 * time.Millisecond,
		ConnectTimeout: 2,
		LogLevel:       logger.Silent,
	}
}

func TestConnectDB(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *postgres.Config
		ctx     func(t *testing.T) context.Context
		wantErr error
		errText string
	}{
		{
			name:   "explicit config",
			config: testConfig,
		},
		{
			name:   "config from env",
			config: func() *postgres.Config { return nil },
		},
		{
			name: "wrong password exhausts retries",
			config: func() *postgres.Config {
				cfg := testConfig()
				cfg.Password = "wrong"
				cfg.MaxRetries = 2
				return cfg
			},
			errText: "database connection failed after 2 attempts",
		},
		{
			name:   "cancelled context",
			config: testConfig,
			ctx: func(t *testing.T) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx(t)
			}

			db, err := postgres.ConnectDB(ctx, tt.config(), zap.NewNop())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, db)
				return
			case tt.errText != "":
				assert.ErrorContains(t, err, tt.errText)
				assert.Nil(t, db)
				return
			}

			require.NoError(t, err)
			t.Cleanup(func() { closeTestDB(db) })

			var name string
			require.NoError(t, db.Raw("SELECT current_database()").Scan(&name).Error)
			assert.Equal(t, "resumeflow", name)
		})
	}
}

func TestMigrate(t *testing.T) {
	for _, table := range []string{"resume_jobs", "resume_results", "goose_db_version"} {
		var exists bool
		err := testDB.QueryRow(
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
			table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	for _, index := range []string{"idx_resume_jobs_pending_claim", "idx_resume_jobs_queued"} {
		var exists bool
		err := testDB.QueryRow(`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)`, index).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, index)
	}

	// a second run is a no-op
	require.NoError(t, postgres.Migrate(testDB))

	var version int64
	require.NoError(t, testDB.QueryRow(`SELECT MAX(version_id) FROM goose_db_version`).Scan(&version))
	assert.EqualValues(t, 3, version)
}

// setupTestDB returns a fresh DB connection and context with automatic cleanup
// Each test gets its own connection to avoid connection pool issues
func setupTestDB(tb testing.TB) (*gorm.DB, context.Context) {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	tb.Cleanup(cancel)

	db, err := postgres.ConnectDB(ctx, testConfig(), nil)
	require.NoError(tb, err)

	for _, table := range []string{"resume_results", "resume_jobs"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			tb.Logf("Warning: Failed to clean %s table: %v", table, err)
		}
	}

	tb.Cleanup(func() {
		closeTestDB(db)
	})

	return db, ctx
}

func closeTestDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
