//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

type record struct {
	Offset int    `json:"offset"`
	Note   string `json:"note"`
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	require.NoError(t, testDB.Upsert(ctx, TableBatchOutput, "a", map[string]any{"offset": 0, "note": "first", "key": map[string]any{}, "batch_index": 0, "items": []any{}}))
	require.NoError(t, testDB.Upsert(ctx, TableBatchOutput, "a", map[string]any{"offset": 0, "note": "second", "key": map[string]any{}, "batch_index": 0, "items": []any{}}))

	got, err := Get[record](ctx, testDB, TableBatchOutput, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Note)

	n, err := testDB.Count(ctx, TableBatchOutput)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateExisting(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	content := map[string]any{"key": map[string]any{"operation": "embed"}}
	require.NoError(t, testDB.Create(ctx, TableOutputSchema, "s", content))

	err := testDB.Create(ctx, TableOutputSchema, "s", content)
	require.ErrorIs(t, err, ErrRecordExists)
}

func TestGetMissing(t *testing.T) {
	_, err := Get[record](context.Background(), testDB, TableBatchOutput, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
