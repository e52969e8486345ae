package domain

// AuditMessage is the queue payload that hands a job to the worker service.
type AuditMessage struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
}

// JobMessage represents an audit message taken off RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	DeliveryTag uint64 `json:"-"`
}
