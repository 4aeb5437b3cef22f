//go:build integration

package tutorial

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tutorials/backend/internal/clients"
	"tutorials/backend/internal/config"
)

// startMongo runs a throwaway MongoDB and returns its URI.
func startMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start MongoDB container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate MongoDB container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	return fmt.Sprintf("mongodb://%s:%s/tutorialsdb", host, port.Port())
}

func TestMongoStore_CRUD(t *testing.T) {
	uri := startMongo(t)
	ctx := context.Background()

	mc := clients.NewMongoClient(config.MongoConfig{URI: uri, Database: "tutorialsdb", ConnectTimeout: 30 * time.Second}, clients.NewCircuitBreaker("it-mongo"))
	handle, err := mc.Connect(ctx)
	require.NoError(t, err)
	defer handle.Close(ctx)

	store := NewMongoStore(handle.Database, 10*time.Second)

	created, err := store.Create(ctx, CreateInput{Title: "Intro to Go", Description: "first"})
	require.NoError(t, err)
	require.False(t, created.ID.IsZero())
	_, err = store.Create(ctx, CreateInput{Title: "Channels", Published: true})
	require.NoError(t, err)

	got, err := store.Get(ctx, created.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", got.Title)
	assert.False(t, got.CreatedAt.IsZero())

	published, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "Channels", published[0].Title)

	pub := true
	require.NoError(t, store.Update(ctx, created.ID.Hex(), UpdateInput{Published: &pub}))
	got, err = store.Get(ctx, created.ID.Hex())
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.Equal(t, "first", got.Description)

	missing := primitive.NewObjectID().Hex()
	assert.ErrorIs(t, store.Update(ctx, missing, UpdateInput{Published: &pub}), ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, missing), ErrNotFound)
	_, err = store.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, created.ID.Hex()))

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := store.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}
