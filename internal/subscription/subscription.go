package subscription

import "time"

// Subscription is a persisted recurring subscription owned by a user.
type Subscription struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ServiceName     string    `json:"serviceName"`
	Price           float64   `json:"price"`
	StartDate       time.Time `json:"startDate"`
	EndDate         time.Time `json:"endDate"`
	Category        string    `json:"category,omitempty"`
	CancellationURL string    `json:"cancellationUrl,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateInput carries the fields for a new subscription. The ID and
// timestamps are assigned by the service.
type CreateInput struct {
	UserID          string
	ServiceName     string
	Price           float64
	StartDate       time.Time
	EndDate         time.Time
	Category        string
	CancellationURL string
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	ServiceName     *string
	Price           *float64
	StartDate       *time.Time
	EndDate         *time.Time
	Category        *string
	CancellationURL *string
}
