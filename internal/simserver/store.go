package simserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/picturebook/internal/remote"
)

// Plot is a generated story plot.
type Plot struct {
	ID        int64
	SettingID int64
	Theme     string
	PageCount int
	CreatedAt time.Time
}

// Book is a storybook record. Its image job starts when it is kicked.
type Book struct {
	ID        int64
	PlotID    int64
	Theme     string
	ChildID   *int64
	PageCount int
	CreatedAt time.Time
	KickedAt  time.Time // zero until kicked
}

// Kicked reports whether image generation has started.
func (b Book) Kicked() bool {
	return !b.KickedAt.IsZero()
}

// Store is a concurrency-safe in-memory store for plots and books. Ids
// are allocated from one sequence so plots and books never collide.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	plots  map[int64]*Plot
	books  map[int64]*Book
}

// NewStore returns an initialized Store ready for use.
func NewStore() *Store {
	return &Store{
		nextID: 9,
		plots:  make(map[int64]*Plot),
		books:  make(map[int64]*Book),
	}
}

func (s *Store) allocate() int64 {
	s.nextID++
	return s.nextID
}

// CreatePlot stores p under a new id and returns the stored copy.
func (s *Store) CreatePlot(p Plot) Plot {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.allocate()
	s.plots[p.ID] = &p
	return p
}

// GetPlot returns a copy of the plot with the given id.
func (s *Store) GetPlot(id int64) (Plot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plots[id]
	if !ok {
		return Plot{}, fmt.Errorf("story plot %d not found", id)
	}
	return *p, nil
}

// DeletePlot removes a plot. It fails while a book still references it.
func (s *Store) DeletePlot(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plots[id]; !ok {
		return fmt.Errorf("story plot %d not found", id)
	}
	for _, b := range s.books {
		if b.PlotID == id {
			return fmt.Errorf("story plot %d is used by storybook %d", id, b.ID)
		}
	}
	delete(s.plots, id)
	return nil
}

// CreateBook stores b under a new id. The referenced plot must exist.
func (s *Store) CreateBook(b Book) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plots[b.PlotID]; !ok {
		return Book{}, fmt.Errorf("story plot %d not found", b.PlotID)
	}
	b.ID = s.allocate()
	s.books[b.ID] = &b
	return b, nil
}

// GetBook returns a copy of the book with the given id.
func (s *Store) GetBook(id int64) (Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return Book{}, fmt.Errorf("storybook %d not found", id)
	}
	return *b, nil
}

// DeleteBook removes a book.
func (s *Store) DeleteBook(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[id]; !ok {
		return fmt.Errorf("storybook %d not found", id)
	}
	delete(s.books, id)
	return nil
}

// Kick starts image generation at now. Kicking twice keeps the first
// start time.
func (s *Store) Kick(id int64, now time.Time) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return Book{}, fmt.Errorf("storybook %d not found", id)
	}
	if !b.Kicked() {
		b.KickedAt = now
	}
	return *b, nil
}

// Progress derives the job state of b at now. One page finishes every
// pageDuration after the kick. A positive failPage makes the job fail when
// that page would have finished.
func Progress(b Book, now time.Time, pageDuration time.Duration, failPage int, previewBase string) remote.ProgressSnapshot {
	snap := remote.ProgressSnapshot{
		JobID:      b.ID,
		TotalUnits: b.PageCount,
		Status:     remote.JobStatusPending,
	}
	if !b.Kicked() || b.PageCount <= 0 {
		return snap
	}

	done := b.PageCount
	if pageDuration > 0 {
		done = min(int(now.Sub(b.KickedAt)/pageDuration), b.PageCount)
	}

	if failPage > 0 && failPage <= b.PageCount && done >= failPage {
		snap.Status = remote.JobStatusFailed
		snap.CurrentUnit = failPage
		snap.Percent = (failPage - 1) * 100 / b.PageCount
		snap.Message = fmt.Sprintf("page %d could not be drawn", failPage)
		snap.Previews = previews(b.ID, failPage-1, previewBase)
		return snap
	}

	snap.Previews = previews(b.ID, done, previewBase)
	if done >= b.PageCount {
		snap.Status = remote.JobStatusCompleted
		snap.CurrentUnit = b.PageCount
		snap.Percent = 100
		return snap
	}
	snap.Status = remote.JobStatusGenerating
	snap.CurrentUnit = done + 1
	snap.Percent = done * 100 / b.PageCount
	return snap
}

func previews(bookID int64, pages int, base string) map[int]string {
	if pages <= 0 {
		return nil
	}
	out := make(map[int]string, pages)
	for page := 1; page <= pages; page++ {
		out[page] = fmt.Sprintf("%s/storybooks/%d/pages/%d.png", base, bookID, page)
	}
	return out
}
