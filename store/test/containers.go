package test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ServiceContainerConfig describes a single-port backend container.
type ServiceContainerConfig struct {
	Image   string
	Port    string // e.g. "6334/tcp"
	Env     map[string]string
	Cmd     []string
	LogLine string // waits for the port when empty
}

// StartServiceContainer starts a container and returns its host:port address.
// The container is terminated when the test ends.
func StartServiceContainer(ctx context.Context, t *testing.T, cfg ServiceContainerConfig) string {
	t.Helper()

	var strategy wait.Strategy = wait.ForListeningPort(nat.Port(cfg.Port)).WithStartupTimeout(60 * time.Second)
	if cfg.LogLine != "" {
		strategy = wait.ForLog(cfg.LogLine).WithStartupTimeout(60 * time.Second)
	}
	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		Env:          cfg.Env,
		Cmd:          cfg.Cmd,
		ExposedPorts: []string{cfg.Port},
		WaitingFor:   strategy,
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s container: %v", cfg.Image, err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s container: %v", cfg.Image, err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, nat.Port(cfg.Port))
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// GetQdrantAddr returns the gRPC address of a Qdrant instance.
func GetQdrantAddr(t *testing.T) string {
	if addr := os.Getenv("QDRANT_TEST_ADDR"); addr != "" {
		return addr
	}
	return StartServiceContainer(t.Context(), t, ServiceContainerConfig{
		Image: "qdrant/qdrant:v1.16.2",
		Port:  "6334/tcp",
	})
}

// GetCockroachDSN returns a DSN for an insecure single-node CockroachDB.
func GetCockroachDSN(t *testing.T) string {
	if dsn := os.Getenv("COCKROACH_TEST_DSN"); dsn != "" {
		return dsn
	}
	addr := StartServiceContainer(t.Context(), t, ServiceContainerConfig{
		Image: "cockroachdb/cockroach:v24.3.5",
		Port:  "26257/tcp",
		Cmd:   []string{"start-single-node", "--insecure"},
	})
	return fmt.Sprintf("postgres://root@%s/defaultdb?sslmode=disable", addr)
}
