package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(NewRedisBroker(client)), mr
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, ResourceQueue, JobClassifyResource, map[string]string{"resourceId": "abc123"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, from, err := q.Dequeue(ctx, []string{ResourceQueue}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, ResourceQueue, from)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobClassifyResource, job.Name)
	assert.Equal(t, 1, job.Attempts, "classify has a single attempt")

	var data map[string]string
	require.NoError(t, json.Unmarshal(job.Data, &data))
	assert.Equal(t, "abc123", data["resourceId"])
}

func TestEnqueueStandingPolicy(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, ResourceQueue, JobAssignErrand, nil, EnqueueOptions{})
	require.NoError(t, err)

	job, _, err := q.Dequeue(ctx, []string{ResourceQueue}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.Attempts)
}

func TestEnqueueExplicitOptionsWin(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, ResourceQueue, JobAssignErrand, nil, EnqueueOptions{Attempts: 5})
	require.NoError(t, err)

	job, _, err := q.Dequeue(ctx, []string{ResourceQueue}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, job.Attempts)
}

func TestDequeueEmptyTimesOut(t *testing.T) {
	q, _ := testQueue(t)

	job, from, err := q.Dequeue(context.Background(), []string{ResourceQueue}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, from)
}

func TestDequeueListensOnAllQueues(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, AutoCompleteQueue, JobAutoCompleteMatch, nil, EnqueueOptions{})
	require.NoError(t, err)

	job, from, err := q.Dequeue(ctx, []string{ResourceQueue, AutoCompleteQueue}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, AutoCompleteQueue, from)
	assert.Equal(t, JobAutoCompleteMatch, job.Name)
}

func TestRequeueKeepsRemainingBudget(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, ResourceQueue, JobAssignErrand, nil, EnqueueOptions{})
	require.NoError(t, err)
	job, _, err := q.Dequeue(ctx, []string{ResourceQueue}, time.Second)
	require.NoError(t, err)

	job.Attempts--
	require.NoError(t, q.Requeue(ctx, ResourceQueue, job))

	again, _, err := q.Dequeue(ctx, []string{ResourceQueue}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestDepth(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, ResourceQueue, JobMatchResources, nil, EnqueueOptions{})
		require.NoError(t, err)
	}
	depth, err := q.Depth(ctx, ResourceQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)
}

func TestStoreResult(t *testing.T) {
	q, mr := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.StoreResult(ctx, "job-1", map[string]string{"job": JobAssignErrand}, time.Minute))

	raw, err := mr.Get("queue:result:job-1")
	require.NoError(t, err)
	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.Equal(t, JobAssignErrand, result["job"])
	assert.Greater(t, mr.TTL("queue:result:job-1"), time.Duration(0))
}

func TestStoreResultZeroTTLNoop(t *testing.T) {
	q, mr := testQueue(t)

	require.NoError(t, q.StoreResult(context.Background(), "job-2", "ok", 0))
	assert.False(t, mr.Exists("queue:result:job-2"))
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, EnqueueOptions{Attempts: 1}, PolicyFor(JobClassifyResource))
	assert.Equal(t, EnqueueOptions{Attempts: 3, ResultTTL: 5 * time.Minute}, PolicyFor(JobAssignErrand))
	assert.Equal(t, EnqueueOptions{Attempts: 3, ResultTTL: time.Hour}, PolicyFor(JobAutoCompleteMatch))
	assert.Equal(t, EnqueueOptions{Attempts: 1}, PolicyFor("no-such-job"))
}
