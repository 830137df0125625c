package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type statusEvent struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (e statusEvent) Attributes() map[string]string {
	return map[string]string{"status": e.Status}
}

func TestPublisherRecordsEncodedEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "widget-jobs", statusEvent{JobID: "job-1", Status: "completed"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.MessagesFor("widget-jobs")
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"job_id":"job-1","status":"completed"}`, string(msgs[0].Data))
	require.Equal(t, map[string]string{"status": "completed"}, msgs[0].Attributes)
	require.Nil(t, pub.MessagesFor("other")[0].Attributes)

	all := pub.Messages()
	require.Len(t, all, 2)
	all[0].Topic = "modified"
	require.Equal(t, "widget-jobs", pub.Messages()[0].Topic)
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "widget-jobs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Messages())
}
