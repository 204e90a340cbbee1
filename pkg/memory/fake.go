package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type fakeRecord struct {
	mem    Memory
	userID string
}

// Fake is an in-memory Service implementation for tests and for runs without
// a memory service configured. Search is naive substring matching over
// content and metadata values.
type Fake struct {
	mu      sync.Mutex
	records map[string]*fakeRecord
	nextID  int

	// FailSearch, FailStore, and FailUpdate inject errors for degradation
	// tests.
	FailSearch bool
	FailStore  bool
	FailUpdate bool
}

// NewFake creates an empty fake memory service.
func NewFake() *Fake {
	return &Fake{records: make(map[string]*fakeRecord)}
}

// SearchMemories returns stored records whose content or metadata contains
// any whitespace-separated term of the query, best matches first. Records
// belonging to other users are never returned.
func (f *Fake) SearchMemories(_ context.Context, userID, query string, maxResults int) ([]Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailSearch {
		return nil, fmt.Errorf("memory service unavailable")
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	terms := strings.Fields(strings.ToLower(query))
	var results []Memory
	for _, rec := range f.records {
		if userID != "" && rec.userID != "" && rec.userID != userID {
			continue
		}
		score := 0
		haystack := strings.ToLower(rec.mem.Content)
		for _, v := range rec.mem.Metadata {
			haystack += " " + strings.ToLower(v)
		}
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			match := rec.mem
			match.Score = float64(score) / float64(len(terms))
			results = append(results, match)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// StoreContent saves content and returns a generated ID.
func (f *Fake) StoreContent(_ context.Context, userID, content, contentType string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailStore {
		return "", fmt.Errorf("memory service unavailable")
	}

	f.nextID++
	id := fmt.Sprintf("mem_%d", f.nextID)
	f.records[id] = &fakeRecord{
		userID: userID,
		mem: Memory{
			ID:          id,
			Content:     content,
			ContentType: contentType,
			Metadata:    metadata,
			CreatedAt:   time.Now().UTC(),
		},
	}
	return id, nil
}

// UpdateMemory applies a partial update to an existing memory.
func (f *Fake) UpdateMemory(_ context.Context, memoryID string, update Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailUpdate {
		return fmt.Errorf("memory service unavailable")
	}

	rec, ok := f.records[memoryID]
	if !ok {
		return fmt.Errorf("memory %s not found", memoryID)
	}
	if update.Content != "" {
		rec.mem.Content = update.Content
	}
	if update.Metadata != nil {
		rec.mem.Metadata = update.Metadata
	}
	return nil
}

// Count returns the number of stored memories.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// Get returns a stored memory by ID, or nil.
func (f *Fake) Get(memoryID string) *Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[memoryID]; ok {
		copied := rec.mem
		return &copied
	}
	return nil
}
