package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/zombor/sub-tracker/internal/catalog"
	"github.com/zombor/sub-tracker/internal/extraction"
	"github.com/zombor/sub-tracker/internal/subscription"
)

// UndoWindow is how long a deleted subscription stays restorable.
const UndoWindow = 5 * time.Second

// ErrDetectionInProgress is returned when a detection is started while a
// previous one has not finished.
var ErrDetectionInProgress = errors.New("a detection is already in progress")

// Store is the subset of the subscription facade the controller mutates
// through.
type Store interface {
	List(userID string) ([]*subscription.Subscription, error)
	Create(input subscription.CreateInput) (*subscription.Subscription, error)
	Delete(id, userID string) error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Reconcile merges catalog matches and raw candidates into one selectable
// list. Every candidate whose name is not already present case-insensitively
// is appended as a name-only item with no category or cancellation link, so
// no extracted candidate is ever dropped, matched or not.
func Reconcile(matched []catalog.MatchedItem, items []extraction.CandidateItem) []catalog.MatchedItem {
	result := make([]catalog.MatchedItem, 0, len(matched)+len(items))
	result = append(result, matched...)

	for _, item := range items {
		present := false
		for _, existing := range result {
			if strings.EqualFold(existing.Name, item.Name) {
				present = true
				break
			}
		}
		if !present {
			result = append(result, catalog.MatchedItem{
				Name:      item.Name,
				AmountUSD: item.AmountUSD,
			})
		}
	}
	return result
}

// Controller owns one user's in-memory session state: the visible
// subscription list, the current detection's selectable items, and the
// one-slot undo buffer. All state is confined to the controller; a fresh
// controller per test gives deterministic behavior.
type Controller struct {
	mu         sync.Mutex
	store      Store
	userID     string
	timeSource TimeSource

	subscriptions []*subscription.Subscription
	pending       []catalog.MatchedItem
	selected      map[string]bool
	detecting     bool

	recentlyDeleted *subscription.Subscription
	undoDeadline    time.Time
}

// NewController creates a Controller with the real clock.
func NewController(store Store, userID string) *Controller {
	return NewControllerWithDeps(store, userID, &defaultTimeSource{})
}

// NewControllerWithDeps creates a Controller with a custom time source for
// testing the undo window without wall-clock waits.
func NewControllerWithDeps(store Store, userID string, timeSrc TimeSource) *Controller {
	return &Controller{
		store:      store,
		userID:     userID,
		timeSource: timeSrc,
		selected:   make(map[string]bool),
	}
}

// Refresh reloads the visible list from the store.
func (c *Controller) Refresh() error {
	subs, err := c.store.List(c.userID)
	if err != nil {
		return fmt.Errorf("refreshing subscriptions: %w", err)
	}
	c.mu.Lock()
	c.subscriptions = subs
	c.mu.Unlock()
	return nil
}

// Subscriptions returns a copy of the visible list.
func (c *Controller) Subscriptions() []*subscription.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*subscription.Subscription, len(c.subscriptions))
	copy(out, c.subscriptions)
	return out
}

// BeginDetection marks a detection as in flight. A second detection may not
// start while one is pending.
func (c *Controller) BeginDetection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detecting {
		return ErrDetectionInProgress
	}
	c.detecting = true
	return nil
}

// FinishDetection reconciles the detection results into the selectable list
// and defaults every entry to selected.
func (c *Controller) FinishDetection(matched []catalog.MatchedItem, items []extraction.CandidateItem) []catalog.MatchedItem {
	result := Reconcile(matched, items)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.detecting = false
	c.pending = result
	c.selected = make(map[string]bool, len(result))
	for _, entry := range result {
		c.selected[entry.Name] = true
	}
	return result
}

// AbortDetection clears the in-flight flag after a failed detection.
func (c *Controller) AbortDetection() {
	c.mu.Lock()
	c.detecting = false
	c.mu.Unlock()
}

// Select toggles one entry's checkbox.
func (c *Controller) Select(name string, selected bool) {
	c.mu.Lock()
	c.selected[name] = selected
	c.mu.Unlock()
}

// Reset discards the current detection's items and selection.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.pending = nil
	c.selected = make(map[string]bool)
	c.detecting = false
	c.mu.Unlock()
}

// Confirm creates one subscription per selected entry: a one-month billing
// window starting and ending today, the price rounded to two decimals (0 when
// unknown), and catalog metadata carried through when present. The batch is
// best-effort; creates already issued are not rolled back when a later one
// fails, and failures are reported as a single aggregate error. Returns how
// many subscriptions were created.
func (c *Controller) Confirm() (int, error) {
	c.mu.Lock()
	toAdd := make([]catalog.MatchedItem, 0, len(c.pending))
	for _, entry := range c.pending {
		if c.selected[entry.Name] {
			toAdd = append(toAdd, entry)
		}
	}
	c.mu.Unlock()

	var errs []error
	added := 0
	today := c.timeSource.Now()
	for _, entry := range toAdd {
		input := subscription.CreateInput{
			UserID:      c.userID,
			ServiceName: entry.Name,
			StartDate:   today,
			EndDate:     today,
		}
		if entry.AmountUSD != nil {
			input.Price = math.Round(*entry.AmountUSD*100) / 100
		}
		if entry.Category != nil {
			input.Category = *entry.Category
		}
		if entry.CancellationLink != nil {
			input.CancellationURL = *entry.CancellationLink
		}
		if _, err := c.store.Create(input); err != nil {
			slog.Error("Failed to add subscription", "service", entry.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		added++
	}

	if len(errs) > 0 {
		return added, fmt.Errorf("adding %d of %d subscriptions failed: %w", len(errs), len(toAdd), errors.Join(errs...))
	}

	c.Reset()
	if err := c.Refresh(); err != nil {
		return added, err
	}
	return added, nil
}

// Delete removes a subscription optimistically: the row disappears from the
// visible list, a deep copy goes into the one-slot undo buffer with a
// five-second deadline, and only then is the store delete issued. A store
// failure restores the full pre-delete snapshot and clears the buffer. A
// newer delete silently overwrites a pending buffered one.
func (c *Controller) Delete(id string) error {
	snapshot, found := c.removeLocal(id)
	if !found {
		// The session may not have listed yet; reload once before giving up.
		if err := c.Refresh(); err != nil {
			return err
		}
		if snapshot, found = c.removeLocal(id); !found {
			return subscription.ErrNotFound
		}
	}

	if err := c.store.Delete(id, c.userID); err != nil {
		c.mu.Lock()
		c.subscriptions = snapshot
		c.recentlyDeleted = nil
		c.undoDeadline = time.Time{}
		c.mu.Unlock()
		return err
	}
	return nil
}

// removeLocal takes the subscription out of the visible list and buffers a
// copy for undo, returning the pre-delete snapshot. Nothing is mutated when
// the id is not present.
func (c *Controller) removeLocal(id string) ([]*subscription.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]*subscription.Subscription, len(c.subscriptions))
	copy(snapshot, c.subscriptions)

	var toDelete *subscription.Subscription
	remaining := make([]*subscription.Subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		if sub.ID == id {
			buffered := *sub
			toDelete = &buffered
			continue
		}
		remaining = append(remaining, sub)
	}
	if toDelete == nil {
		return nil, false
	}

	c.subscriptions = remaining
	c.recentlyDeleted = toDelete
	c.undoDeadline = c.timeSource.Now().Add(UndoWindow)
	return snapshot, true
}

// CanUndo reports whether a buffered delete is still inside the undo window.
func (c *Controller) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recentlyDeleted != nil && c.timeSource.Now().Before(c.undoDeadline)
}

// Undo issues a compensating create for the buffered delete: the snapshot's
// id and owner are stripped and the store assigns a fresh identity with
// today's start/end dates, so the restored row is a new logical record. Undo
// with an empty or expired buffer is a no-op, not an error.
func (c *Controller) Undo() error {
	c.mu.Lock()
	if c.recentlyDeleted == nil || !c.timeSource.Now().Before(c.undoDeadline) {
		c.recentlyDeleted = nil
		c.mu.Unlock()
		return nil
	}
	buffered := *c.recentlyDeleted
	c.mu.Unlock()

	today := c.timeSource.Now()
	_, err := c.store.Create(subscription.CreateInput{
		UserID:          c.userID,
		ServiceName:     buffered.ServiceName,
		Price:           buffered.Price,
		StartDate:       today,
		EndDate:         today,
		Category:        buffered.Category,
		CancellationURL: buffered.CancellationURL,
	})
	if err != nil {
		return fmt.Errorf("restoring subscription: %w", err)
	}

	c.mu.Lock()
	c.recentlyDeleted = nil
	c.undoDeadline = time.Time{}
	c.mu.Unlock()

	return c.Refresh()
}
