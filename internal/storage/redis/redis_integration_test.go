package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerAddr string
	containerErr  error
)

// openRedisForIntegrationTest берёт адрес из SKYSHOP_REDIS_TEST_ADDR или поднимает контейнер.
// Каждый тест получает очищенную базу.
func openRedisForIntegrationTest(t *testing.T) *goredis.Client {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("SKYSHOP_REDIS_TEST_ADDR"))
	if addr == "" {
		if testing.Short() {
			t.Skip("redis is not available for integration tests (short mode)")
		}
		var err error
		addr, err = startRedisContainer(t)
		if err != nil {
			t.Skipf("redis is not available for integration tests: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Open(ctx, addr)
	if err != nil {
		t.Skipf("redis is not reachable: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

func startRedisContainer(t *testing.T) (string, error) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
			},
			Started: true,
		})
		if err != nil {
			containerErr = err
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			containerErr = err
			return
		}
		port, err := container.MappedPort(ctx, "6379")
		if err != nil {
			containerErr = err
			return
		}
		containerAddr = fmt.Sprintf("%s:%s", host, port.Port())
	})

	return containerAddr, containerErr
}
