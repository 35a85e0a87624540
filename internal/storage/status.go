package storage

// Status - status of token metadata resolving
type Status string

// defined statuses
const (
	StatusNew     Status = "new"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)
