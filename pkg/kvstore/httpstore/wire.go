package httpstore

import "github.com/ankur-anand/kvbulk/pkg/record"

// RequestIDHeader carries the client generated id of every request.
const RequestIDHeader = "X-Request-Id"

// APIPrefix is the path prefix of every table route.
const APIPrefix = "/api/v1/tables"

type MutateRequest struct {
	Mutation record.Envelope `json:"mutation"`
}

type BatchRequest struct {
	Mutations []record.Envelope `json:"mutations"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type CheckAndMutateResponse struct {
	Applied bool `json:"applied"`
}

type BatchGetRequest struct {
	Gets []record.Get `json:"gets"`
}

type BatchGetResponse struct {
	Results []record.Result `json:"results"`
}

type ScanRequest struct {
	Scan  record.Scan `json:"scan"`
	From  []byte      `json:"from,omitempty"`
	Limit int         `json:"limit"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
