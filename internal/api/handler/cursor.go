package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
)

// JobCursor marks the last job of a page in (created_at, job_id) order
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func DecodeJobCursor(cursorStr string) (*JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &JobCursor{
		CreatedAt: time.Unix(0, createdAt),
		JobID:     decodedParts[1],
	}, nil
}

func EncodeJobCursor(cursor *JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}

// after reports whether job sorts strictly after the cursor
func (c *JobCursor) after(job *domain.Job) bool {
	if !job.CreatedAt.Equal(c.CreatedAt) {
		return job.CreatedAt.After(c.CreatedAt)
	}
	return job.ID > c.JobID
}

// paginate returns the page following cursor from jobs sorted by creation.
// A zero page size returns everything after the cursor.
func paginate(jobs []*domain.Job, cursor *JobCursor, pageSize int) ([]*domain.Job, *JobCursor) {
	if cursor != nil {
		start := len(jobs)
		for i, job := range jobs {
			if cursor.after(job) {
				start = i
				break
			}
		}
		jobs = jobs[start:]
	}

	if pageSize <= 0 || len(jobs) <= pageSize {
		return jobs, nil
	}

	page := jobs[:pageSize]
	last := page[len(page)-1]
	return page, &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
}
