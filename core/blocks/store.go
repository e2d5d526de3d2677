/*
SPDX-License-Identifier: Apache-2.0

Copyright 2024 The Taxinomia Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package blocks pages a range of displayed rows in fixed size blocks that
// are fetched on demand and evicted least recently used first.
package blocks

import (
	"container/list"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/google/rowmodel/core/rows"
)

// State is the load state of a block.
type State int

const (
	NotLoaded State = iota
	Loading
	Loaded
	Stale
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not-loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TokenSource hands out request tokens. One source is shared by all stores
// of a row model so that tokens are unique within the model.
type TokenSource struct {
	last atomic.Int64
}

// Next returns a token greater than every token returned before.
func (t *TokenSource) Next() int64 {
	return t.last.Add(1)
}

// Fetch asks the data source for the rows [Start, End) of a store.
type Fetch struct {
	Token int64
	Block int
	Start int
	End   int
}

// Options configures a Store.
type Options struct {
	// BlockSize is the number of rows per block. Defaults to 100.
	BlockSize int
	// MaxRows caps the number of resident rows. Zero means no cap.
	MaxRows int
	// InitialRowCount is the row count assumed before anything is loaded.
	// Defaults to 1, so that the first block gets requested.
	InitialRowCount int
	// NewNode creates the node for the record at index. Defaults to a leaf
	// with the index as id.
	NewNode func(index int, r rows.Record) *rows.Node
	// OnEvict is called with the nodes of blocks dropped from memory.
	OnEvict func(nodes []*rows.Node)
	Logger  *slog.Logger
}

// Block is a contiguous range of rows.
type Block struct {
	ID    int
	Start int
	End   int
	State State
	// Token of the fetch whose result is accepted, 0 when none.
	Token int64

	rows       []*rows.Node
	lastAccess uint64
	elem       *list.Element
}

// Stats summarises a store.
type Stats struct {
	Blocks        int
	Loading       int
	Loaded        int
	Stale         int
	ResidentRows  int
	RowCount      int
	RowCountKnown bool
}

// Store holds the blocks of one level of the row tree. It is not safe for
// concurrent use; the owning model serialises access.
type Store struct {
	opts   Options
	tokens *TokenSource
	logger *slog.Logger

	blocks   map[int]*Block
	byToken  map[int64]*Block
	lru      *list.List // resident blocks that may be evicted, most recent first
	clock    uint64
	resident int

	rowCount      int
	rowCountKnown bool
}

// NewStore creates an empty store.
func NewStore(tokens *TokenSource, opts Options) *Store {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 100
	}
	if opts.InitialRowCount <= 0 {
		opts.InitialRowCount = 1
	}
	if opts.NewNode == nil {
		opts.NewNode = func(i int, r rows.Record) *rows.Node {
			return rows.NewLeaf(strconv.Itoa(i), r, i)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{opts: opts, tokens: tokens, logger: logger}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.blocks = make(map[int]*Block)
	s.byToken = make(map[int64]*Block)
	s.lru = list.New()
	s.resident = 0
	s.rowCount = s.opts.InitialRowCount
	s.rowCountKnown = false
}

// BlockSize returns the configured block size.
func (s *Store) BlockSize() int { return s.opts.BlockSize }

// RowCount returns the number of rows of the store as far as known.
func (s *Store) RowCount() int { return s.rowCount }

// RowCountKnown reports whether the row count is final.
func (s *Store) RowCountKnown() bool { return s.rowCountKnown }

// SetRowCount sets the row count, e.g. from a group row's child count.
func (s *Store) SetRowCount(count int, known bool) {
	s.rowCount = count
	s.rowCountKnown = known
}

func (s *Store) touch(b *Block) {
	s.clock++
	b.lastAccess = s.clock
	if b.elem != nil {
		s.lru.MoveToFront(b.elem)
	}
}

// EnsureRange requests every block covering the rows [start, end) that is
// not loaded. A block that is already loading gets a fresh token, which
// supersedes the token of the fetch in flight.
func (s *Store) EnsureRange(start, end int) []Fetch {
	if start < 0 {
		start = 0
	}
	if s.rowCountKnown && end > s.rowCount {
		end = s.rowCount
	}
	if end <= start {
		return nil
	}
	bs := s.opts.BlockSize
	var fetches []Fetch
	for id := start / bs; id <= (end-1)/bs; id++ {
		b, ok := s.blocks[id]
		if !ok {
			b = &Block{ID: id, Start: id * bs, End: (id + 1) * bs}
			s.blocks[id] = b
		}
		s.touch(b)
		if b.State == Loaded {
			continue
		}
		if b.Token != 0 {
			delete(s.byToken, b.Token)
		}
		if b.elem != nil {
			s.lru.Remove(b.elem)
			b.elem = nil
		}
		b.Token = s.tokens.Next()
		b.State = Loading
		s.byToken[b.Token] = b
		fetches = append(fetches, Fetch{Token: b.Token, Block: id, Start: b.Start, End: b.End})
	}
	return fetches
}

// Deliver installs the rows of a fetch. rowCount is the total reported by
// the data source, or -1 when unknown. A token that no longer belongs to a
// loading block is discarded and Deliver reports false.
func (s *Store) Deliver(token int64, records []rows.Record, rowCount int) bool {
	b, ok := s.byToken[token]
	if !ok || b.State != Loading {
		s.logger.Debug("discarded stale block", "token", token)
		return false
	}
	delete(s.byToken, token)
	s.dropRows(b)
	b.Token = 0
	b.State = Loaded
	b.rows = make([]*rows.Node, len(records))
	for i, r := range records {
		b.rows[i] = s.opts.NewNode(b.Start+i, r)
	}
	s.resident += len(b.rows)
	b.elem = s.lru.PushFront(b)
	s.touch(b)

	switch {
	case rowCount >= 0:
		s.rowCount, s.rowCountKnown = rowCount, true
	case len(records) < s.opts.BlockSize:
		s.rowCount, s.rowCountKnown = b.Start+len(records), true
	case !s.rowCountKnown:
		s.rowCount = max(s.rowCount, b.End+s.opts.BlockSize)
	}
	s.logger.Debug("block loaded", "block", b.ID, "rows", len(records), "rowCount", s.rowCount)
	return true
}

// Fail marks the block of a failed fetch as not loaded, so that the next
// EnsureRange retries it. A token that no longer belongs to a loading block
// is ignored and Fail reports false.
func (s *Store) Fail(token int64, err error) bool {
	b, ok := s.byToken[token]
	if !ok || b.State != Loading {
		return false
	}
	delete(s.byToken, token)
	s.dropRows(b)
	b.Token = 0
	b.State = NotLoaded
	s.logger.Debug("block failed", "block", b.ID, "err", err)
	return true
}

// dropRows releases the rows of b.
func (s *Store) dropRows(b *Block) {
	if b.elem != nil {
		s.lru.Remove(b.elem)
		b.elem = nil
	}
	if len(b.rows) == 0 {
		return
	}
	s.resident -= len(b.rows)
	if s.opts.OnEvict != nil {
		s.opts.OnEvict(b.rows)
	}
	b.rows = nil
}

// Evict drops the least recently accessed loaded or stale blocks until the
// resident rows fit MaxRows. Loading blocks and the pinned blocks are never
// evicted. It returns the ids of the evicted blocks.
func (s *Store) Evict(pinned ...int) []int {
	if s.opts.MaxRows <= 0 {
		return nil
	}
	var evicted []int
	for s.resident > s.opts.MaxRows {
		e := s.lru.Back()
		for e != nil && slices.Contains(pinned, e.Value.(*Block).ID) {
			e = e.Prev()
		}
		if e == nil {
			break
		}
		b := e.Value.(*Block)
		s.dropRows(b)
		delete(s.blocks, b.ID)
		evicted = append(evicted, b.ID)
	}
	if len(evicted) > 0 {
		s.logger.Debug("evicted blocks", "blocks", evicted, "resident", s.resident)
	}
	return evicted
}

// MarkStale marks every loaded block stale. Stale rows stay readable until
// the block is loaded again.
func (s *Store) MarkStale() {
	for _, b := range s.blocks {
		if b.State == Loaded {
			b.State = Stale
		}
	}
}

// Purge drops every block. Results of fetches in flight are discarded on
// arrival.
func (s *Store) Purge() {
	for _, b := range s.blocks {
		s.dropRows(b)
	}
	s.reset()
}

// RowAt returns the loaded node at index i.
func (s *Store) RowAt(i int) (*rows.Node, bool) {
	if i < 0 {
		panic(fmt.Sprintf("blocks: negative row index %d", i))
	}
	b, ok := s.blocks[i/s.opts.BlockSize]
	if !ok {
		return nil, false
	}
	local := i - b.Start
	if local >= len(b.rows) {
		return nil, false
	}
	s.touch(b)
	return b.rows[local], true
}

// Block returns a copy of the block with the given id.
func (s *Store) Block(id int) (Block, bool) {
	b, ok := s.blocks[id]
	if !ok {
		return Block{ID: id, Start: id * s.opts.BlockSize, End: (id + 1) * s.opts.BlockSize}, false
	}
	c := *b
	c.rows, c.elem = nil, nil
	return c, true
}

// ForEachRow calls fn for every resident row.
func (s *Store) ForEachRow(fn func(*rows.Node)) {
	for _, b := range s.blocks {
		for _, n := range b.rows {
			fn(n)
		}
	}
}

// Stats returns a summary of the store.
func (s *Store) Stats() Stats {
	st := Stats{Blocks: len(s.blocks), ResidentRows: s.resident, RowCount: s.rowCount, RowCountKnown: s.rowCountKnown}
	for _, b := range s.blocks {
		switch b.State {
		case Loading:
			st.Loading++
		case Loaded:
			st.Loaded++
		case Stale:
			st.Stale++
		}
	}
	return st
}
