package subscription

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/sub-tracker/internal/catalog"
)

// mockDB is a mock implementation of DB
type mockDB struct {
	subs      map[string]*Subscription
	services  map[string]catalog.Service
	saveErr   error
	getErr    error
	listErr   error
	deleteErr error
}

func newMockDB() *mockDB {
	return &mockDB{
		subs:     make(map[string]*Subscription),
		services: make(map[string]catalog.Service),
	}
}

func (m *mockDB) SaveSubscription(sub *Subscription) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.subs[sub.ID] = sub
	return nil
}

func (m *mockDB) GetSubscription(id string) (*Subscription, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	sub, ok := m.subs[id]
	if !ok {
		return nil, errors.New("subscription not found")
	}
	return sub, nil
}

func (m *mockDB) ListSubscriptions(userID string) ([]*Subscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (m *mockDB) DeleteSubscription(id, userID string) (int, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	sub, ok := m.subs[id]
	if !ok || sub.UserID != userID {
		return 0, nil
	}
	delete(m.subs, id)
	return 1, nil
}

func (m *mockDB) FindServices(names []string) ([]catalog.Service, error) {
	var hits []catalog.Service
	for _, svc := range m.services {
		for _, name := range names {
			if svc.Name == name {
				hits = append(hits, svc)
				break
			}
		}
	}
	return hits, nil
}

func (m *mockDB) PutService(svc catalog.Service) error {
	m.services[svc.Name] = svc
	return nil
}

func (m *mockDB) ListServices() ([]catalog.Service, error) {
	services := make([]catalog.Service, 0, len(m.services))
	for _, svc := range m.services {
		services = append(services, svc)
	}
	return services, nil
}

func (m *mockDB) Close() error {
	return nil
}

// mockIDGenerator is a mock implementation of IDGenerator
type mockIDGenerator struct {
	id string
}

func (m *mockIDGenerator) Generate() string {
	return m.id
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

var _ = Describe("Service", func() {
	var (
		db         *mockDB
		idGen      *mockIDGenerator
		timeSource *mockTimeSource
		service    *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		idGen = &mockIDGenerator{id: "fixed-id"}
		timeSource = &mockTimeSource{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, idGen, timeSource)
	})

	Describe("List", func() {
		When("no user id is supplied", func() {
			It("returns an authentication error", func() {
				_, err := service.List("")
				Expect(err).To(MatchError(ErrNotAuthenticated))
			})
		})

		When("the user has subscriptions", func() {
			BeforeEach(func() {
				db.subs["sub-1"] = &Subscription{ID: "sub-1", UserID: "user-1"}
				db.subs["sub-2"] = &Subscription{ID: "sub-2", UserID: "user-2"}
			})

			It("returns only that user's subscriptions", func() {
				subs, err := service.List("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(subs).To(HaveLen(1))
				Expect(subs[0].ID).To(Equal("sub-1"))
			})
		})
	})

	Describe("Create", func() {
		var (
			input CreateInput
			sub   *Subscription
			err   error
		)

		BeforeEach(func() {
			input = CreateInput{
				UserID:      "user-1",
				ServiceName: "Spotify",
				Price:       9.99,
				StartDate:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				EndDate:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
				Category:    "Music",
			}
		})

		JustBeforeEach(func() {
			sub, err = service.Create(input)
		})

		When("the input is valid", func() {
			It("does not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("assigns the generated id", func() {
				Expect(sub.ID).To(Equal("fixed-id"))
			})

			It("stamps created and updated times", func() {
				Expect(sub.CreatedAt).To(Equal(timeSource.now))
				Expect(sub.UpdatedAt).To(Equal(timeSource.now))
			})

			It("persists the subscription", func() {
				Expect(db.subs).To(HaveKey("fixed-id"))
			})
		})

		When("no user id is supplied", func() {
			BeforeEach(func() {
				input.UserID = ""
			})

			It("returns an authentication error", func() {
				Expect(err).To(MatchError(ErrNotAuthenticated))
			})
		})

		When("the service name is blank", func() {
			BeforeEach(func() {
				input.ServiceName = "   "
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		When("the price is negative", func() {
			BeforeEach(func() {
				input.Price = -1
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		When("no dates are supplied", func() {
			BeforeEach(func() {
				input.StartDate = time.Time{}
				input.EndDate = time.Time{}
			})

			It("defaults both dates to now", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(sub.StartDate).To(Equal(timeSource.now))
				Expect(sub.EndDate).To(Equal(timeSource.now))
			})
		})

		When("the database save fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("db error")
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Update", func() {
		BeforeEach(func() {
			db.subs["sub-1"] = &Subscription{
				ID:          "sub-1",
				UserID:      "user-1",
				ServiceName: "Netflix",
				Price:       15.49,
				Category:    "Streaming",
			}
		})

		When("patching a subset of fields", func() {
			It("changes only those fields", func() {
				price := 17.99
				sub, err := service.Update("sub-1", Patch{Price: &price})
				Expect(err).NotTo(HaveOccurred())
				Expect(sub.Price).To(Equal(17.99))
				Expect(sub.ServiceName).To(Equal("Netflix"))
				Expect(sub.Category).To(Equal("Streaming"))
			})

			It("bumps the updated timestamp", func() {
				name := "Netflix Premium"
				sub, err := service.Update("sub-1", Patch{ServiceName: &name})
				Expect(err).NotTo(HaveOccurred())
				Expect(sub.UpdatedAt).To(Equal(timeSource.now))
			})
		})

		When("the patch price is negative", func() {
			It("returns an error", func() {
				price := -5.0
				_, err := service.Update("sub-1", Patch{Price: &price})
				Expect(err).To(HaveOccurred())
			})
		})

		When("the subscription does not exist", func() {
			It("returns a not-found error", func() {
				_, err := service.Update("nonexistent", Patch{})
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			db.subs["sub-1"] = &Subscription{ID: "sub-1", UserID: "user-1"}
		})

		When("id and owner match", func() {
			It("deletes the subscription", func() {
				Expect(service.Delete("sub-1", "user-1")).NotTo(HaveOccurred())
				Expect(db.subs).To(BeEmpty())
			})
		})

		When("no user id is supplied", func() {
			It("returns an authentication error", func() {
				Expect(service.Delete("sub-1", "")).To(MatchError(ErrNotAuthenticated))
			})
		})

		When("the delete affects zero rows", func() {
			It("surfaces a not-found error rather than silent success", func() {
				Expect(service.Delete("sub-1", "someone-else")).To(MatchError(ErrNotFound))
				Expect(db.subs).To(HaveKey("sub-1"))
			})
		})
	})

	Describe("SeedCatalog", func() {
		When("the catalog is empty", func() {
			It("loads the built-in services", func() {
				Expect(service.SeedCatalog()).NotTo(HaveOccurred())
				Expect(db.services).NotTo(BeEmpty())
			})
		})

		When("the catalog already has entries", func() {
			BeforeEach(func() {
				Expect(db.PutService(catalog.Service{Name: "Custom"})).NotTo(HaveOccurred())
			})

			It("leaves it untouched", func() {
				Expect(service.SeedCatalog()).NotTo(HaveOccurred())
				Expect(db.services).To(HaveLen(1))
			})
		})
	})
})
