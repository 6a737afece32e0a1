package jobs

import (
	"bytes"
	"context"

	"github.com/gin-gonic/gin/binding"
	"github.com/vhvplatform/go-wellness-notifier/internal/domain"
	"github.com/vhvplatform/go-wellness-notifier/internal/shared/errors"
)

// Service routes verified trigger bodies to their job
type Service struct {
	runner *Runner
	jobs   map[domain.JobType]Job
}

// NewService creates a service over the given jobs
func NewService(runner *Runner, jobs ...Job) *Service {
	m := make(map[domain.JobType]Job, len(jobs))
	for _, j := range jobs {
		m[j.Type()] = j
	}
	return &Service{runner: runner, jobs: m}
}

// Execute parses body for jobType and runs the job. Parse failures are
// returned as validation AppErrors; a duplicate run as errors.ErrAlreadyClaimed.
func (s *Service) Execute(ctx context.Context, jobType domain.JobType, body []byte, source string) (*Result, error) {
	job, ok := s.jobs[jobType]
	if !ok {
		return nil, errors.NewValidationError("Unknown job", errors.Newf("job %q is not registered", jobType))
	}

	t, err := job.Parse(body)
	if err != nil {
		return nil, errors.NewValidationError("Invalid request", err)
	}
	t.Source = source

	return s.runner.Run(ctx, job, t)
}

// decode binds a JSON body with gin's validator. An empty body is an empty object.
func decode(body []byte, obj any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	return binding.JSON.BindBody(body, obj)
}
