//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
)

// ReadEntry reads the hash at "TABLE|key".
func ReadEntry(t *testing.T, client *redis.Client, table, key string) map[string]string {
	t.Helper()

	redisKey := table + "|" + key
	vals, err := client.HGetAll(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", redisKey, err)
	}
	return vals
}

// EntryExists checks if "TABLE|key" exists.
func EntryExists(t *testing.T, client *redis.Client, table, key string) bool {
	t.Helper()

	redisKey := table + "|" + key
	n, err := client.Exists(context.Background(), redisKey).Result()
	if err != nil {
		t.Fatalf("checking existence of %s: %v", redisKey, err)
	}
	return n > 0
}

// KeyCount returns the number of keys in the client's database.
func KeyCount(t *testing.T, client *redis.Client) int {
	t.Helper()

	n, err := client.DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("getting key count: %v", err)
	}
	return int(n)
}
