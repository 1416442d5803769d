package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	// MongoURIEnvVar overrides the server integration tests connect to.
	MongoURIEnvVar = "MONGO_URI"
	// SkipIntegrationEnvVar skips integration tests when set to true.
	SkipIntegrationEnvVar = "SKIP_INTEGRATION_TESTS"

	defaultMongoURI = "mongodb://localhost:27017"
	pingTimeout     = 2 * time.Second
)

// GetDirectoryOfFile returns the path to of the file that calling
// this function. Use this to ensure that references to testdata and
// other file system locations in tests are not dependent on the working
// directory of the "go test" invocation.
func GetDirectoryOfFile() string {
	_, file, _, _ := runtime.Caller(1)

	return filepath.Dir(file)
}

// MongoURI returns the server integration tests use.
func MongoURI() string {
	if uri := os.Getenv(MongoURIEnvVar); uri != "" {
		return uri
	}
	return defaultMongoURI
}

// ConfigureIntegrationTest skips the test when integration tests are
// turned off.
func ConfigureIntegrationTest(t *testing.T) {
	if skip, _ := strconv.ParseBool(os.Getenv(SkipIntegrationEnvVar)); skip {
		t.Skipf("%s is set, skipping integration test", SkipIntegrationEnvVar)
	}
}

// MongoClient returns a client connected to the test server, skipping the
// test if none answers. The client is disconnected when the test ends.
func MongoClient(t *testing.T) *mongo.Client {
	ConfigureIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(MongoURI()).SetServerSelectionTimeout(pingTimeout))
	if err != nil {
		t.Skipf("cannot connect to '%s': %s", MongoURI(), err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("no server at '%s': %s", MongoURI(), err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})
	return client
}

// DatabaseName returns a database name unique to the running test binary.
func DatabaseName(prefix string) string {
	return prefix + "_" + strconv.Itoa(os.Getpid())
}
