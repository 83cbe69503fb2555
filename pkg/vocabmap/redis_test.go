/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vocabmap_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-bpe-vocab/pkg/metrics"
	. "github.com/llm-d/llm-d-bpe-vocab/pkg/vocabmap"
)

// createRedisStrIntForTesting publishes entries to a mock Redis server and
// returns a map reading them back.
func createRedisStrIntForTesting(t *testing.T, entries map[string]uint32) StrInt {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Close()
	})

	client, err := NewRedisClient(t.Context(), server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, PublishStrInt(t.Context(), client, "test-vocab", NewInMemoryStrInt(entries)))

	m, err := NewRedisStrInt(&RedisConfig{Address: server.Addr(), Key: "test-vocab"})
	require.NoError(t, err)
	return m
}

// TestRedisStrIntBehavior tests the Redis map using common test behaviors.
func TestRedisStrIntBehavior(t *testing.T) {
	testCommonStrIntBehavior(t, createRedisStrIntForTesting)
}

func TestRedisStrIntRFind(t *testing.T) {
	m := createRedisStrIntForTesting(t, map[string]uint32{"lo@@": 10, "w</w>": 11})

	rf, ok := m.(ReverseFinder)
	require.True(t, ok)

	k, found, err := rf.RFind(11)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "w</w>", k)

	_, found, err = rf.RFind(99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPublishReplacesPreviousEntries(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client, err := NewRedisClient(t.Context(), "redis://"+server.Addr())
	require.NoError(t, err)

	require.NoError(t, PublishStrInt(t.Context(), client, "v", NewInMemoryStrInt(map[string]uint32{"old": 1})))
	require.NoError(t, PublishStrInt(t.Context(), client, "v", NewInMemoryStrInt(map[string]uint32{"new": 2})))

	m, err := NewRedisStrInt(&RedisConfig{Address: server.Addr(), Key: "v"})
	require.NoError(t, err)
	assert.False(t, m.Exists("old"))
	assert.True(t, m.Exists("new"))
	assert.Equal(t, 1, m.Size())
}

func TestRedisStrIntMalformedValue(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	server.HSet("v", "bad", "not-a-number")

	m, err := NewRedisStrInt(&RedisConfig{Address: server.Addr(), Key: "v"})
	require.NoError(t, err)

	_, ok := m.Find("bad")
	assert.False(t, ok)
	assert.Error(t, m.Err())
}

func TestRedisStrIntBackendErrors(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	server.HSet("v", "lo@@", "10")

	m, err := NewRedisStrInt(&RedisConfig{Address: server.Addr(), Key: "v", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	id, ok := m.Find("lo@@")
	require.True(t, ok)
	assert.Equal(t, uint32(10), id)
	assert.NoError(t, m.Err())

	before := testutil.ToFloat64(metrics.MapBackendErrors)
	server.SetError("ERR backend unavailable")

	_, ok = m.Find("lo@@")
	assert.False(t, ok)
	assert.False(t, m.Exists("lo@@"))
	assert.Error(t, m.Err())
	assert.InDelta(t, before+2, testutil.ToFloat64(metrics.MapBackendErrors), 0)

	server.SetError("")
	_, ok = m.Find("lo@@")
	assert.True(t, ok)
	assert.NoError(t, m.Err())
}

func TestNewRedisStrIntUnreachable(t *testing.T) {
	_, err := NewRedisStrInt(&RedisConfig{Address: "127.0.0.1:1", Key: "v"})
	assert.Error(t, err)
}
