package models

// Requests for the consensus HTTP endpoints. Defined in domain for consistency and reuse.

type SignalsRequest struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=live degraded unavailable"`
}

type HistoryRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}
