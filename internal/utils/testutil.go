package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	testEnvOnce  sync.Once
	testMongoURI string
)

// loadTestEnv reads .env from the project root so integration tests pick up
// the same settings the binary would.
func loadTestEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		godotenv.Load()
	}

	testMongoURI = os.Getenv("MONGO_URI_TEST")
	if testMongoURI == "" {
		testMongoURI = os.Getenv("MONGO_URI")
	}
}

// SetupTestDB connects to the test MongoDB instance and drops the named
// collections for a clean slate. Tests that call it are skipped when neither
// MONGO_URI_TEST nor MONGO_URI is set.
func SetupTestDB(t *testing.T, dbName string, collections ...string) *mongo.Database {
	t.Helper()
	testEnvOnce.Do(loadTestEnv)
	if testMongoURI == "" {
		t.Skip("MONGO_URI_TEST not set; skipping integration test")
	}

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "failed to connect to MongoDB")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database(dbName)
	for _, collection := range collections {
		_ = db.Collection(collection).Drop(context.Background())
	}
	return db
}

// GetTestMongoURI exposes the resolved test URI for tests that need a raw
// client.
func GetTestMongoURI() string {
	testEnvOnce.Do(loadTestEnv)
	return testMongoURI
}
