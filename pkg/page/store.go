package page

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/treecore/treecore/internal/logger"
)

const metadataFileName = "metadata.json"

type onDiskMetadata struct {
	NextPageID uint32 `json:"next_page_id"`
}

// Stats summarizes the page store's in-memory cache state.
type Stats struct {
	TotalPages  int
	DirtyPages  int
	TotalRecord int
	NextPageID  ID
}

// Store maps page IDs to bytes on disk and back, handing out fresh
// IDs from a monotonic, never-reused counter persisted alongside the
// pages themselves.
type Store struct {
	mu         sync.Mutex
	dataDir    string
	pages      map[ID]*Page
	nextPageID uint32
	log        *logger.Logger
}

// NewStore opens (or initializes) a page store rooted at dataDir.
func NewStore(dataDir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &Store{
		dataDir:    dataDir,
		pages:      make(map[ID]*Page),
		nextPageID: 1,
		log:        log.PageLogger(),
	}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dataDir, metadataFileName)
}

func (s *Store) pageFilePath(id ID) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("page_%06d.dat", id))
}

func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read metadata: %w", err)
	}
	var meta onDiskMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// Corruption in the metadata side-file is tolerated the same
		// way page checksum mismatches are: logged, not fatal.
		s.log.Error("failed to parse metadata.json").Err(err).Send()
		return nil
	}
	if meta.NextPageID > 0 {
		s.nextPageID = meta.NextPageID
	}
	return nil
}

func (s *Store) saveMetadata() error {
	meta := onDiskMetadata{NextPageID: s.nextPageID}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeFileDurable(s.metadataPath(), data)
}

// CreatePage assigns the next PageID, initializes an empty in-memory
// page of the given kind, and returns it marked dirty. It is not
// persisted until SavePage is called.
func (s *Store) CreatePage(kind Kind) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ID(s.nextPageID)
	s.nextPageID++

	p := New(id, kind)
	p.MarkDirty()
	s.pages[id] = p

	if err := s.saveMetadata(); err != nil {
		return nil, err
	}
	s.log.LogPageEvent("create", uint32(id), nil)
	return p, nil
}

// LoadPage returns the page for id, from the in-memory cache if
// resident, else from disk. Returns (nil, nil) if the page does not
// exist or its file is not exactly Size bytes (corruption, logged).
func (s *Store) LoadPage(id ID) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[id]; ok {
		return p, nil
	}

	data, err := os.ReadFile(s.pageFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.log.LogPageEvent("load", uint32(id), err)
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if len(data) != Size {
		s.log.Error("page file has wrong size").
			Uint32("page_id", uint32(id)).
			Int("size", len(data)).
			Msg("page corruption")
		return nil, nil
	}

	p, err := FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", id, err)
	}
	if !p.VerifyChecksum() {
		s.log.Error("checksum mismatch on load").Uint32("page_id", uint32(id)).Send()
	}
	s.pages[id] = p
	return p, nil
}

// SavePage recomputes the page's checksum and durably writes it to
// disk, clearing its dirty flag on success.
func (s *Store) SavePage(p *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePageLocked(p)
}

func (s *Store) savePageLocked(p *Page) error {
	p.Header.Timestamp = uint32(time.Now().Unix())
	p.UpdateChecksum()
	if err := writeFileDurable(s.pageFilePath(p.Header.PageID), p.ToBytes()); err != nil {
		s.log.LogPageEvent("save", uint32(p.Header.PageID), err)
		return fmt.Errorf("save page %d: %w", p.Header.PageID, err)
	}
	p.dirty = false
	s.pages[p.Header.PageID] = p
	s.log.LogPageEvent("save", uint32(p.Header.PageID), nil)
	return nil
}

// SaveAllDirty writes every cached dirty page to disk, returning the
// number of pages written.
func (s *Store) SaveAllDirty() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, p := range s.pages {
		if p.IsDirty() {
			if err := s.savePageLocked(p); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// Stats reports cache-level statistics about the page store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{NextPageID: ID(s.nextPageID)}
	for _, p := range s.pages {
		stats.TotalPages++
		if p.IsDirty() {
			stats.DirtyPages++
		}
		stats.TotalRecord += int(p.Header.RecordCount)
	}
	return stats
}
