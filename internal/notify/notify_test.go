package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	args := m.Called(ctx, body, contentType)
	return args.Error(0)
}

func TestAMQP_Notify(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	job := domain.NewJob("job-1", []string{"a.pdf", "b.pdf"}, false, "", at)
	job.Complete(&domain.Result{TotalFiles: 2, SuccessfulFiles: 1}, "job-1_results.json", at)

	pub := &mockPublisher{}
	pub.On("PublishWithRetry", mock.Anything, mock.Anything, "application/json").Return(nil).Once()

	n := NewAMQP(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, n.Notify(context.Background(), NewJobEvent(job, at)))

	body := pub.Calls[0].Arguments.Get(1).([]byte)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "job-1", got["job_id"])
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, float64(2), got["total_files"])
	assert.Equal(t, float64(1), got["successful_files"])
	assert.NotContains(t, got, "error")

	pub.AssertExpectations(t)
}

func TestAMQP_NotifyError(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishWithRetry", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed"))

	n := NewAMQP(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := n.Notify(context.Background(), JobEvent{JobID: "job-2", Status: domain.StatusFailed})
	assert.ErrorContains(t, err, "job-2")
	assert.ErrorContains(t, err, "channel closed")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), JobEvent{}))
}
