// Package tagindex maintains the in-memory inverted index from tag to post ids.
//
// The index is a pure cache over the posts table. Readers load an immutable
// snapshot through an atomic pointer and never block; writers are serialized
// and publish a new snapshot that shares every untouched tag list with the old one.
package tagindex

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the slice of a post the index needs.
type Entry struct {
	ID        string
	Tags      []string
	CreatedAt time.Time
	Published bool
}

// TagCount is a tag with the number of posts carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type ref struct {
	id        string
	createdAt time.Time
	published bool
	// pending refs were staged by Begin for a write that has not committed yet.
	pending bool
}

// compareRefs orders most recent first, ties broken by id descending.
func compareRefs(a, b ref) int {
	if c := b.createdAt.Compare(a.createdAt); c != 0 {
		return c
	}
	return strings.Compare(b.id, a.id)
}

type snapshot struct {
	tags map[string][]ref
}

// Index is safe for concurrent use.
type Index struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.snap.Store(&snapshot{tags: map[string][]ref{}})
	return idx
}

// NormalizeTag lower-cases a tag, trims it and collapses inner whitespace.
func NormalizeTag(tag string) string {
	return strings.Join(strings.Fields(strings.ToLower(tag)), " ")
}

// NormalizeTags normalizes, deduplicates and sorts tags, dropping empty ones.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if n := NormalizeTag(t); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// AddPost associates the post with each of its tags. Repeating it is a no-op.
func (idx *Index) AddPost(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	next := cur.clone()
	next.add(e, NormalizeTags(e.Tags))
	idx.publish(next)
}

// RemovePost drops the association between the post and the given tags.
// Tags the post is not associated with are ignored.
func (idx *Index) RemovePost(id string, tags ...string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	next := cur.clone()
	next.remove(id, NormalizeTags(tags))
	idx.publish(next)
}

// Apply moves a post from its before state to its after state in one step. Either
// side may be nil for a create or a removal.
func (idx *Index) Apply(before, after *Entry) {
	idx.Begin(before, after).Commit()
}

// Change is a staged index update for one post mutation. Begin stages the tags the
// post gains as pending: Candidates returns them so a committed row is never missing
// from a store-joined tag query, while PostsForTag, Count and Tags skip them until
// Commit. Commit also withdraws the tags the post lost; Rollback undoes Begin.
type Change struct {
	idx           *Index
	before, after *Entry
	added         []string
	removed       []string
	kept          []string
}

// Begin stages the symmetric difference between before and after.
func (idx *Index) Begin(before, after *Entry) *Change {
	var oldTags, newTags []string
	if before != nil {
		oldTags = NormalizeTags(before.Tags)
	}
	if after != nil {
		newTags = NormalizeTags(after.Tags)
	}
	c := &Change{idx: idx, before: before, after: after}
	c.removed, c.added, c.kept = diff(oldTags, newTags)

	if after != nil && len(c.added) > 0 {
		idx.mu.Lock()
		next := idx.snap.Load().clone()
		next.stage(*after, c.added)
		idx.publish(next)
		idx.mu.Unlock()
	}
	return c
}

// Commit drops the tags the post lost and refreshes the entries it kept when its
// ordering or publication state changed.
func (c *Change) Commit() {
	confirm := c.after != nil && len(c.added) > 0
	refresh := c.before != nil && c.after != nil && len(c.kept) > 0 &&
		(!c.before.CreatedAt.Equal(c.after.CreatedAt) || c.before.Published != c.after.Published)
	drop := c.before != nil && len(c.removed) > 0
	if !confirm && !refresh && !drop {
		return
	}

	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	next := c.idx.snap.Load().clone()
	if confirm {
		next.confirm(c.after.ID, c.added)
	}
	if drop {
		next.remove(c.before.ID, c.removed)
	}
	if refresh {
		next.remove(c.before.ID, c.kept)
		next.add(*c.after, c.kept)
	}
	c.idx.publish(next)
}

// Rollback withdraws the tags published by Begin.
func (c *Change) Rollback() {
	if c.after == nil || len(c.added) == 0 {
		return
	}
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	next := c.idx.snap.Load().clone()
	next.remove(c.after.ID, c.added)
	c.idx.publish(next)
}

// Rebuild replaces the whole index with the given entries.
func (idx *Index) Rebuild(entries []Entry) {
	next := &snapshot{tags: make(map[string][]ref)}
	for _, e := range entries {
		r := ref{id: e.ID, createdAt: e.CreatedAt, published: e.Published}
		for _, tag := range NormalizeTags(e.Tags) {
			next.tags[tag] = append(next.tags[tag], r)
		}
	}
	for tag, refs := range next.tags {
		slices.SortFunc(refs, compareRefs)
		next.tags[tag] = slices.CompactFunc(refs, func(a, b ref) bool { return a.id == b.id })
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.publish(next)
}

// PostsForTag returns up to limit post ids for tag, most recent first, starting
// at offset. A limit <= 0 means no limit. Uncommitted posts are left out.
func (idx *Index) PostsForTag(tag string, limit, offset int) []string {
	refs := committed(idx.snap.Load().tags[NormalizeTag(tag)])
	if offset < 0 {
		offset = 0
	}
	if offset >= len(refs) {
		return []string{}
	}
	refs = refs[offset:]
	if limit > 0 && limit < len(refs) {
		refs = refs[:limit]
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.id
	}
	return ids
}

// Candidates returns every id indexed under tag, including posts whose write is
// still in flight. Callers must resolve the ids against storage.
func (idx *Index) Candidates(tag string) []string {
	refs := idx.snap.Load().tags[NormalizeTag(tag)]
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.id
	}
	return ids
}

// Count returns the number of committed posts carrying tag.
func (idx *Index) Count(tag string) int {
	return len(committed(idx.snap.Load().tags[NormalizeTag(tag)]))
}

// committed filters out pending refs, reusing refs when there are none.
func committed(refs []ref) []ref {
	if !slices.ContainsFunc(refs, func(r ref) bool { return r.pending }) {
		return refs
	}
	out := make([]ref, 0, len(refs))
	for _, r := range refs {
		if !r.pending {
			out = append(out, r)
		}
	}
	return out
}

// Tags returns every tag carried by at least one published post, with its count
// of published posts, most used first. Draft-only tags are left out.
func (idx *Index) Tags() []TagCount {
	snap := idx.snap.Load()
	out := make([]TagCount, 0, len(snap.tags))
	for tag, refs := range snap.tags {
		n := 0
		for _, r := range refs {
			if r.published && !r.pending {
				n++
			}
		}
		if n > 0 {
			out = append(out, TagCount{Tag: tag, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Len returns the number of distinct tags.
func (idx *Index) Len() int {
	return len(idx.snap.Load().tags)
}

func (idx *Index) publish(next *snapshot) {
	idx.snap.Store(next)
}

// clone copies the tag map; the ref slices are shared until a writer replaces them.
func (s *snapshot) clone() *snapshot {
	tags := make(map[string][]ref, len(s.tags))
	for k, v := range s.tags {
		tags[k] = v
	}
	return &snapshot{tags: tags}
}

func (s *snapshot) add(e Entry, tags []string) {
	s.insert(ref{id: e.ID, createdAt: e.CreatedAt, published: e.Published}, tags)
}

func (s *snapshot) stage(e Entry, tags []string) {
	s.insert(ref{id: e.ID, createdAt: e.CreatedAt, published: e.Published, pending: true}, tags)
}

// confirm clears the pending mark on id under each tag.
func (s *snapshot) confirm(id string, tags []string) {
	for _, tag := range tags {
		refs := s.tags[tag]
		i := slices.IndexFunc(refs, func(x ref) bool { return x.id == id && x.pending })
		if i < 0 {
			continue
		}
		updated := slices.Clone(refs)
		updated[i].pending = false
		s.tags[tag] = updated
	}
}

func (s *snapshot) insert(r ref, tags []string) {
	for _, tag := range tags {
		refs := s.tags[tag]
		if slices.ContainsFunc(refs, func(x ref) bool { return x.id == r.id }) {
			continue
		}
		pos, _ := slices.BinarySearchFunc(refs, r, compareRefs)
		updated := make([]ref, 0, len(refs)+1)
		updated = append(updated, refs[:pos]...)
		updated = append(updated, r)
		updated = append(updated, refs[pos:]...)
		s.tags[tag] = updated
	}
}

func (s *snapshot) remove(id string, tags []string) {
	for _, tag := range tags {
		refs := s.tags[tag]
		i := slices.IndexFunc(refs, func(x ref) bool { return x.id == id })
		if i < 0 {
			continue
		}
		if len(refs) == 1 {
			delete(s.tags, tag)
			continue
		}
		updated := make([]ref, 0, len(refs)-1)
		updated = append(updated, refs[:i]...)
		updated = append(updated, refs[i+1:]...)
		s.tags[tag] = updated
	}
}

// diff splits two sorted tag sets into the tags only in before, only in after, and in both.
func diff(before, after []string) (removed, added, kept []string) {
	for _, t := range before {
		if _, found := slices.BinarySearch(after, t); found {
			kept = append(kept, t)
		} else {
			removed = append(removed, t)
		}
	}
	for _, t := range after {
		if _, found := slices.BinarySearch(before, t); !found {
			added = append(added, t)
		}
	}
	return removed, added, kept
}
