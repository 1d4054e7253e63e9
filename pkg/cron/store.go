package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"grip/pkg/workspace"
)

// loadJobs reads the job list. A missing file is an empty list.
func loadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron store: %w", err)
	}

	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse cron store: %w", err)
	}

	return jobs, nil
}

// saveJobs rewrites the store through a sibling .tmp file and a rename.
func saveJobs(path string, jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	if err := workspace.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}

	return nil
}
