package models

// TripFilter represents filter parameters for querying trips
type TripFilter struct {
	TaxiID      string `form:"taxiId"`
	StartTime   int64  `form:"startTime"`   // Unix timestamp
	EndTime     int64  `form:"endTime"`     // Unix timestamp
	CallType    string `form:"callType"`    // A, B, C
	CleanStatus string `form:"cleanStatus"` // OK, EMPTY
	Page        int    `form:"page"`
	PageSize    int    `form:"pageSize"`
}

// TopEdgesFilter represents parameters for the top-K edge ranking
type TopEdgesFilter struct {
	By   string `form:"by"`   // count, avg_time
	K    int    `form:"k"`
	Kind string `form:"kind"` // WAY (default) or EDGE
}

// TripsResponse represents a paginated response of trips
type TripsResponse struct {
	Data       []TripDetail `json:"data"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}
