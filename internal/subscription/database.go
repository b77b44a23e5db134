package subscription

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/sub-tracker/internal/catalog"
)

const (
	subscriptionBucketName = "subscriptions"
	catalogBucketName      = "catalog"
)

// DB defines the interface for database operations
type DB interface {
	// SaveSubscription saves a subscription to the database
	SaveSubscription(sub *Subscription) error

	// GetSubscription retrieves a subscription by ID
	GetSubscription(id string) (*Subscription, error)

	// ListSubscriptions returns all subscriptions belonging to a user
	ListSubscriptions(userID string) ([]*Subscription, error)

	// DeleteSubscription removes a subscription only when both id and owner
	// match, returning the number of rows removed (0 or 1)
	DeleteSubscription(id, userID string) (int, error)

	// FindServices returns catalog services matching any of the given names
	// case-insensitively
	FindServices(names []string) ([]catalog.Service, error)

	// PutService stores a catalog service keyed by its lowercased name
	PutService(svc catalog.Service) error

	// ListServices returns the full catalog
	ListServices() ([]catalog.Service, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(subscriptionBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(catalogBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveSubscription saves a subscription to the database
func (b *BoltDB) SaveSubscription(sub *Subscription) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriptionBucketName))
		data, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshaling subscription: %w", err)
		}
		return bucket.Put([]byte(sub.ID), data)
	})
}

// GetSubscription retrieves a subscription by ID
func (b *BoltDB) GetSubscription(id string) (*Subscription, error) {
	var sub *Subscription
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriptionBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("subscription not found: %s", id)
		}
		return json.Unmarshal(data, &sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions belonging to a user
func (b *BoltDB) ListSubscriptions(userID string) ([]*Subscription, error) {
	subs := make([]*Subscription, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriptionBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var sub Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("unmarshaling subscription: %w", err)
			}
			if sub.UserID == userID {
				subs = append(subs, &sub)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteSubscription removes a subscription only when both id and owner
// match. A zero count means not found or not owned, never an error.
func (b *BoltDB) DeleteSubscription(id, userID string) (int, error) {
	count := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(subscriptionBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var sub Subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("unmarshaling subscription: %w", err)
		}
		if sub.UserID != userID {
			return nil
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		count = 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FindServices returns catalog services matching any of the given names
// case-insensitively. Catalog keys are lowercased names, so each name is a
// single point lookup.
func (b *BoltDB) FindServices(names []string) ([]catalog.Service, error) {
	services := make([]catalog.Service, 0)
	seen := make(map[string]bool)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(catalogBucketName))
		for _, name := range names {
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			data := bucket.Get([]byte(key))
			if data == nil {
				continue
			}
			var svc catalog.Service
			if err := json.Unmarshal(data, &svc); err != nil {
				return fmt.Errorf("unmarshaling catalog service: %w", err)
			}
			services = append(services, svc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return services, nil
}

// PutService stores a catalog service keyed by its lowercased name
func (b *BoltDB) PutService(svc catalog.Service) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(catalogBucketName))
		data, err := json.Marshal(svc)
		if err != nil {
			return fmt.Errorf("marshaling catalog service: %w", err)
		}
		return bucket.Put([]byte(strings.ToLower(svc.Name)), data)
	})
}

// ListServices returns the full catalog
func (b *BoltDB) ListServices() ([]catalog.Service, error) {
	services := make([]catalog.Service, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(catalogBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var svc catalog.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return fmt.Errorf("unmarshaling catalog service: %w", err)
			}
			services = append(services, svc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return services, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
