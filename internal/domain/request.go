package domain

// RunRequest is the input of a single variant run.
type RunRequest struct {
	Inputs    map[string]any `json:"inputs,omitempty"`
	SubjectID string         `json:"subject_id,omitempty"`
	// RequestID makes retries idempotent. Generated when empty.
	RequestID string `json:"request_id,omitempty"`
}

// RunResponse is returned by a variant run.
type RunResponse struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	RequestID    string `json:"request_id"`
	Result       Result `json:"result,omitempty"`
}

// CreateExperimentResponse is returned after registering an experiment.
type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

// ListExperimentsResponse lists active experiment ids in creation order.
type ListExperimentsResponse struct {
	Experiments []string `json:"experiments"`
}

// ResultsResponse lists recorded outcomes in arrival order.
type ResultsResponse struct {
	ExperimentID string    `json:"experiment_id"`
	Outcomes     []Outcome `json:"outcomes"`
}

// TrafficSplitRequest replaces the traffic split of a live experiment.
type TrafficSplitRequest struct {
	TrafficSplit map[string]float64 `json:"traffic_split"`
}

// StatusResponse is returned by operator lifecycle actions.
type StatusResponse struct {
	ExperimentID string           `json:"experiment_id"`
	Status       ExperimentStatus `json:"status"`
}

// ListSummariesResponse lists archived final summaries.
type ListSummariesResponse struct {
	Summaries []AnalysisSummary `json:"summaries"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	VariantID string `json:"variant_id,omitempty"`
}

// FeedMessage is broadcast to feed subscribers of an experiment.
type FeedMessage struct {
	Type         FeedEventType    `json:"type"`
	Ts           int64            `json:"ts"` // Unix milliseconds
	ExperimentID string           `json:"experiment_id"`
	Outcome      *Outcome         `json:"outcome,omitempty"`
	Status       ExperimentStatus `json:"status,omitempty"`
	Summary      *AnalysisSummary `json:"summary,omitempty"`
}

// WebhookRequest is the body POSTed to a webhook executor endpoint.
type WebhookRequest struct {
	VariantID string         `json:"variant_id"`
	Payload   VariantPayload `json:"payload"`
	Inputs    map[string]any `json:"inputs,omitempty"`
}
