// Package catalog provides the read side of the AMIS vehicle catalog: a
// sqlite-backed store, an in-memory snapshot cache with atomic replacement,
// and lazily built per-year candidate indexes.
//
// One catalog version is active at a time. The cache loads the whole active
// version into memory (structured fields plus embeddings) and publishes it as
// an immutable Snapshot; a refresh builds a fresh snapshot and swaps the
// pointer, so in-flight matches keep reading the snapshot they started with.
package catalog

import (
	"sort"
	"time"
)

// Record is one row of the active catalog snapshot. Text fields are stored
// normalized (lowercase, diacritics folded) so extraction and filtering
// compare like with like.
type Record struct {
	CVEGS    string
	Marca    string
	Submarca string
	Tipveh   string
	Modelo   int
	Descveh  string

	// Embedding is L2-normalized at load, or nil when the ETL produced none.
	// Records without embeddings still participate in the fuzzy-only path.
	Embedding []float32

	Version int64
}

// Snapshot is an immutable materialized view of one catalog version.
// Readers share it by reference and never mutate it.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time

	records []Record
	byYear  map[int][]*Record
	byCVEGS map[string]*Record

	indexes *indexSet
}

// NewSnapshot buckets records by model year and builds lookup maps. The
// records slice is owned by the snapshot afterwards.
func NewSnapshot(version int64, records []Record) *Snapshot {
	s := &Snapshot{
		Version:  version,
		LoadedAt: time.Now(),
		records:  records,
		byYear:   make(map[int][]*Record),
		byCVEGS:  make(map[string]*Record, len(records)),
	}
	for i := range records {
		r := &records[i]
		s.byYear[r.Modelo] = append(s.byYear[r.Modelo], r)
		s.byCVEGS[r.CVEGS] = r
	}
	s.indexes = newIndexSet(s)
	return s
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int { return len(s.records) }

// RecordsForYear returns the records whose modelo equals year.
// The returned slice is shared; callers must not mutate it.
func (s *Snapshot) RecordsForYear(year int) []*Record {
	return s.byYear[year]
}

// Embedding returns the normalized embedding for a CVEGS code, or nil.
func (s *Snapshot) Embedding(cvegs string) []float32 {
	if r, ok := s.byCVEGS[cvegs]; ok {
		return r.Embedding
	}
	return nil
}

// Index returns the candidate index for a year, building it on first access.
func (s *Snapshot) Index(year int) *YearIndex {
	return s.indexes.forYear(year)
}

// Stats summarizes the snapshot for observability surfaces.
type Stats struct {
	Version        int64     `json:"version"`
	LoadedAt       time.Time `json:"loaded_at"`
	RecordCount    int       `json:"record_count"`
	EmbeddingCount int       `json:"embedding_count"`
	Years          []int     `json:"years"`
}

// Stats computes summary statistics over the snapshot.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Version:     s.Version,
		LoadedAt:    s.LoadedAt,
		RecordCount: len(s.records),
	}
	for i := range s.records {
		if len(s.records[i].Embedding) > 0 {
			st.EmbeddingCount++
		}
	}
	st.Years = make([]int, 0, len(s.byYear))
	for y := range s.byYear {
		st.Years = append(st.Years, y)
	}
	sort.Ints(st.Years)
	return st
}
