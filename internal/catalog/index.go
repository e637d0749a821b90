package catalog

import (
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// YearIndex holds the distinct candidate values observed for one model year,
// plus the marca→submarca relation and the hierarchical frequency table used
// when prompting the LLM fallback. Values are non-empty and normalized.
type YearIndex struct {
	Year int

	Marcas    []string
	Submarcas []string
	Tipvehs   []string

	MarcaSet    map[string]struct{}
	SubmarcaSet map[string]struct{}
	TipvehSet   map[string]struct{}

	// SubmarcaByMarca restricts submarca candidates when marca is certain.
	SubmarcaByMarca map[string][]string

	// Freq counts catalog rows per marca, with per-submarca counts and the
	// tipveh values observed under that marca.
	Freq map[string]*MarcaFreq
}

// MarcaFreq is the hierarchical frequency entry for one marca.
type MarcaFreq struct {
	Total     int
	Submarcas map[string]int
	Tipvehs   map[string]struct{}
}

// Empty reports whether the year has no candidate values at all.
func (ix *YearIndex) Empty() bool {
	return len(ix.Marcas) == 0 && len(ix.Submarcas) == 0 && len(ix.Tipvehs) == 0
}

// TopMarcas returns up to n marcas ordered by descending total frequency,
// ties broken lexicographically.
func (ix *YearIndex) TopMarcas(n int) []string {
	out := make([]string, len(ix.Marcas))
	copy(out, ix.Marcas)
	sort.Slice(out, func(i, j int) bool {
		fi, fj := ix.Freq[out[i]].Total, ix.Freq[out[j]].Total
		if fi != fj {
			return fi > fj
		}
		return out[i] < out[j]
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// indexSet lazily builds YearIndexes for a snapshot. Derived purely from the
// immutable snapshot, so it dies with it; replacing the snapshot is the
// invalidation. Concurrent first-readers of the same year share one build.
type indexSet struct {
	snap  *Snapshot
	cache sync.Map // year int → *YearIndex
	group singleflight.Group
}

func newIndexSet(snap *Snapshot) *indexSet {
	return &indexSet{snap: snap}
}

func (is *indexSet) forYear(year int) *YearIndex {
	if v, ok := is.cache.Load(year); ok {
		return v.(*YearIndex)
	}
	v, _, _ := is.group.Do(strconv.Itoa(year), func() (any, error) {
		ix := buildYearIndex(is.snap, year)
		is.cache.Store(year, ix)
		return ix, nil
	})
	return v.(*YearIndex)
}

func buildYearIndex(snap *Snapshot, year int) *YearIndex {
	ix := &YearIndex{
		Year:            year,
		MarcaSet:        make(map[string]struct{}),
		SubmarcaSet:     make(map[string]struct{}),
		TipvehSet:       make(map[string]struct{}),
		SubmarcaByMarca: make(map[string][]string),
		Freq:            make(map[string]*MarcaFreq),
	}

	relation := make(map[string]map[string]struct{})

	for _, r := range snap.RecordsForYear(year) {
		if r.Marca != "" {
			if _, seen := ix.MarcaSet[r.Marca]; !seen {
				ix.MarcaSet[r.Marca] = struct{}{}
				ix.Marcas = append(ix.Marcas, r.Marca)
			}
			freq := ix.Freq[r.Marca]
			if freq == nil {
				freq = &MarcaFreq{
					Submarcas: make(map[string]int),
					Tipvehs:   make(map[string]struct{}),
				}
				ix.Freq[r.Marca] = freq
			}
			freq.Total++
			if r.Submarca != "" {
				freq.Submarcas[r.Submarca]++
				if relation[r.Marca] == nil {
					relation[r.Marca] = make(map[string]struct{})
				}
				relation[r.Marca][r.Submarca] = struct{}{}
			}
			if r.Tipveh != "" {
				freq.Tipvehs[r.Tipveh] = struct{}{}
			}
		}
		if r.Submarca != "" {
			if _, seen := ix.SubmarcaSet[r.Submarca]; !seen {
				ix.SubmarcaSet[r.Submarca] = struct{}{}
				ix.Submarcas = append(ix.Submarcas, r.Submarca)
			}
		}
		if r.Tipveh != "" {
			if _, seen := ix.TipvehSet[r.Tipveh]; !seen {
				ix.TipvehSet[r.Tipveh] = struct{}{}
				ix.Tipvehs = append(ix.Tipvehs, r.Tipveh)
			}
		}
	}

	sort.Strings(ix.Marcas)
	sort.Strings(ix.Submarcas)
	sort.Strings(ix.Tipvehs)

	for marca, subs := range relation {
		list := make([]string, 0, len(subs))
		for sb := range subs {
			list = append(list, sb)
		}
		sort.Strings(list)
		ix.SubmarcaByMarca[marca] = list
	}

	return ix
}
