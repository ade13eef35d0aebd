package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// migratedTestStore возвращает store с применёнными миграциями и пустыми таблицами.
func migratedTestStore(t *testing.T) *Store {
	t.Helper()

	store := connectTestDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	resetTestTables(t, store)
	return store
}

// connectTestDatabase пробует DSN из окружения, затем контейнер postgres.
// Тест пропускается, если база недоступна.
func connectTestDatabase(t *testing.T) *Store {
	t.Helper()

	var attempts []string
	for _, env := range []string{"SKYSHOP_POSTGRES_TEST_DSN", "SKYSHOP_POSTGRES_DSN"} {
		dsn := strings.TrimSpace(os.Getenv(env))
		if dsn == "" {
			continue
		}
		store, err := dialForTest(t, dsn)
		if err == nil {
			return store
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", env, err))
	}

	if testing.Short() {
		t.Skipf("postgres unavailable in short mode %v", attempts)
	}
	dsn, err := startPostgresContainer(t)
	if err != nil {
		t.Skipf("postgres unavailable: %v (tried %v)", err, attempts)
	}
	store, err := dialForTest(t, dsn)
	if err != nil {
		t.Skipf("postgres container unreachable: %v", err)
	}
	return store
}

func dialForTest(t *testing.T, dsn string) (*Store, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, nil
}

// startPostgresContainer поднимает один контейнер на весь пакет; его останавливает reaper testcontainers.
func startPostgresContainer(t *testing.T) (string, error) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "postgres:16-alpine",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "skyshop",
					"POSTGRES_PASSWORD": "skyshop",
					"POSTGRES_DB":       "skyshop",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute),
			},
			Started: true,
		})
		if err != nil {
			containerErr = err
			return
		}

		endpoint, err := container.Endpoint(ctx, "")
		if err != nil {
			containerErr = err
			return
		}
		containerDSN = fmt.Sprintf("postgres://skyshop:skyshop@%s/skyshop?sslmode=disable", endpoint)
	})

	return containerDSN, containerErr
}

func resetTestTables(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			outbox_messages,
			timeline_events,
			order_items,
			orders,
			products,
			categories
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}
