package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// OnEvict is notified when Active Memory evicts a page for capacity,
// letting the orchestrator hand it to Archival Memory. Expressed as an
// interface per DESIGN NOTES §9 rather than a raw function-pointer field,
// so a page added with no owner attached degrades gracefully (Evict is
// simply never called).
type OnEvict interface {
	Evict(page Page)
}

// OnEvictFunc adapts a plain function to the OnEvict interface.
type OnEvictFunc func(page Page)

// Evict implements OnEvict.
func (f OnEvictFunc) Evict(page Page) { f(page) }

// ActiveMemory is C3: a bounded set of pages with LRU-by-last-access
// eviction, ties broken by lower access_count (spec §4.3/§3).
type ActiveMemory struct {
	mu       sync.Mutex
	maxPages int
	pages    map[string]*Page
	order    []string // insertion order, for recent(n)
	nowFunc  func() time.Time
}

// NewActiveMemory builds an ActiveMemory with the given page cap.
func NewActiveMemory(maxPages int, now func() time.Time) *ActiveMemory {
	if now == nil {
		now = time.Now
	}
	return &ActiveMemory{maxPages: maxPages, pages: make(map[string]*Page), nowFunc: now}
}

// AddPage inserts a new page; while over capacity it removes the
// least-recently-accessed page and then hands it to onEvict. onEvict may
// be nil.
func (a *ActiveMemory) AddPage(content PageContent, kind PageKind, onEvict OnEvict) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.NewString()
	now := a.nowFunc()
	p := &Page{
		ID:           id,
		Content:      content,
		Kind:         kind,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
	}
	a.pages[id] = p
	a.order = append(a.order, id)

	for len(a.pages) > a.maxPages {
		victimID := a.pickEvictionVictim()
		if victimID == "" {
			break
		}
		victim := a.pages[victimID]
		delete(a.pages, victimID)
		a.removeFromOrder(victimID)
		if onEvict != nil {
			onEvict.Evict(*victim)
		}
	}
	return id
}

// pickEvictionVictim returns the id of the page with the smallest
// (last_accessed, -access_count), i.e. least-recently-accessed, ties
// broken by fewer accesses. Caller must hold a.mu.
func (a *ActiveMemory) pickEvictionVictim() string {
	var victimID string
	var victim *Page
	for id, p := range a.pages {
		if victim == nil ||
			p.LastAccessed.Before(victim.LastAccessed) ||
			(p.LastAccessed.Equal(victim.LastAccessed) && p.AccessCount < victim.AccessCount) {
			victimID = id
			victim = p
		}
	}
	return victimID
}

func (a *ActiveMemory) removeFromOrder(id string) {
	for i, oid := range a.order {
		if oid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

// GetPage returns a copy of the page and bumps its last_accessed/access_count.
func (a *ActiveMemory) GetPage(id string) (Page, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pages[id]
	if !ok {
		return Page{}, false
	}
	p.LastAccessed = a.nowFunc()
	p.AccessCount++
	return *p, true
}

// Touch bumps last_accessed/access_count without returning the content,
// used when the orchestrator marks a page accessed during retrieval.
func (a *ActiveMemory) Touch(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pages[id]; ok {
		p.LastAccessed = a.nowFunc()
		p.AccessCount++
	}
}

// Recent returns up to n most-recently-inserted pages, newest first.
func (a *ActiveMemory) Recent(n int) []Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.order) {
		n = len(a.order)
	}
	out := make([]Page, 0, n)
	for i := len(a.order) - 1; i >= 0 && len(out) < n; i-- {
		if p, ok := a.pages[a.order[i]]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// All returns a snapshot of every page currently held, used by the
// orchestrator's parallel retrieval and by save_state.
func (a *ActiveMemory) All() []Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Page, 0, len(a.pages))
	for _, id := range a.order {
		if p, ok := a.pages[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// FindByPageID returns the page whose content variant refers back to
// sourceRef (used to deduplicate re-promotion against an existing page),
// per spec §4.7's "never duplicates an existing page with the same prior
// id" requirement.
func (a *ActiveMemory) FindByPageID(sourceRef string) (Page, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.order {
		p := a.pages[id]
		if p != nil && p.Content.Type == PageContentPromoted && p.Content.SourceRef == sourceRef {
			return *p, true
		}
	}
	return Page{}, false
}

// Search performs a fallback case-insensitive substring search over page
// content, used only when embeddings are unavailable (spec §4.3).
func (a *ActiveMemory) Search(query string) []Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := normalizeForSearch(query)
	var out []Page
	for _, id := range a.order {
		p := a.pages[id]
		if p != nil && containsFold(normalizeForSearch(p.Content.SerializedText()), q) {
			out = append(out, *p)
		}
	}
	return out
}

// RemoveByID removes a page without invoking onEvict, used when the
// orchestrator deliberately archives a page (e.g. end_conversation).
func (a *ActiveMemory) RemoveByID(id string) (Page, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pages[id]
	if !ok {
		return Page{}, false
	}
	delete(a.pages, id)
	a.removeFromOrder(id)
	return *p, true
}

// Len reports the number of pages currently held.
func (a *ActiveMemory) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pages)
}
