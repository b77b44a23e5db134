package subscription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/sub-tracker/internal/catalog"
)

// ErrNotAuthenticated is returned when an operation requires a user id and
// none was supplied.
var ErrNotAuthenticated = errors.New("user not authenticated")

// ErrNotFound is returned when a subscription does not exist or is not owned
// by the requesting user. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("subscription not found or user does not have permission")

// IDGenerator generates unique IDs for subscriptions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service is the store facade over a user's subscriptions
type Service struct {
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB) *Service {
	return &Service{
		db:          db,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// List returns all subscriptions belonging to a user
func (s *Service) List(userID string) ([]*Subscription, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	subs, err := s.db.ListSubscriptions(userID)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return subs, nil
}

// Create persists a new subscription with a server-assigned id
func (s *Service) Create(input CreateInput) (*Subscription, error) {
	if input.UserID == "" {
		return nil, ErrNotAuthenticated
	}
	name := strings.TrimSpace(input.ServiceName)
	if name == "" {
		return nil, errors.New("service name is required")
	}
	if input.Price < 0 {
		return nil, errors.New("price must be non-negative")
	}

	now := s.timeSource.Now()
	start := input.StartDate
	if start.IsZero() {
		start = now
	}
	end := input.EndDate
	if end.IsZero() {
		end = now
	}

	sub := &Subscription{
		ID:              s.idGenerator.Generate(),
		UserID:          input.UserID,
		ServiceName:     name,
		Price:           input.Price,
		StartDate:       start,
		EndDate:         end,
		Category:        input.Category,
		CancellationURL: input.CancellationURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.db.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("saving subscription: %w", err)
	}
	return sub, nil
}

// Update applies a partial patch to a subscription
func (s *Service) Update(id string, patch Patch) (*Subscription, error) {
	sub, err := s.db.GetSubscription(id)
	if err != nil {
		return nil, ErrNotFound
	}

	if patch.ServiceName != nil {
		sub.ServiceName = *patch.ServiceName
	}
	if patch.Price != nil {
		if *patch.Price < 0 {
			return nil, errors.New("price must be non-negative")
		}
		sub.Price = *patch.Price
	}
	if patch.StartDate != nil {
		sub.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		sub.EndDate = *patch.EndDate
	}
	if patch.Category != nil {
		sub.Category = *patch.Category
	}
	if patch.CancellationURL != nil {
		sub.CancellationURL = *patch.CancellationURL
	}
	sub.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("saving subscription: %w", err)
	}
	return sub, nil
}

// Delete removes a subscription only when both id and owner match. A delete
// affecting zero rows surfaces ErrNotFound, never a silent success.
func (s *Service) Delete(id, userID string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	count, err := s.db.DeleteSubscription(id, userID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// ListServices returns the known-service catalog
func (s *Service) ListServices() ([]catalog.Service, error) {
	services, err := s.db.ListServices()
	if err != nil {
		return nil, fmt.Errorf("listing catalog services: %w", err)
	}
	return services, nil
}

// SeedCatalog populates an empty catalog with the built-in service list.
// A catalog that already has entries is left untouched.
func (s *Service) SeedCatalog() error {
	existing, err := s.db.ListServices()
	if err != nil {
		return fmt.Errorf("checking catalog: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	services, err := catalog.SeedData()
	if err != nil {
		return err
	}
	for _, svc := range services {
		if err := s.db.PutService(svc); err != nil {
			return fmt.Errorf("seeding catalog service %q: %w", svc.Name, err)
		}
	}
	return nil
}
