package tagindex

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Flask ", "blog", "BLOG", "", "  ", "Web   Dev"})
	assert.Equal(t, []string{"blog", "flask", "web dev"}, got)
	assert.Empty(t, NormalizeTags(nil))
}

func TestPostsForTag_MostRecentFirst(t *testing.T) {
	idx := New()
	idx.AddPost(Entry{ID: "a", Tags: []string{"Flask", "Blog"}, CreatedAt: base})
	idx.AddPost(Entry{ID: "b", Tags: []string{"blog"}, CreatedAt: base.Add(time.Second)})

	assert.Equal(t, []string{"b", "a"}, idx.PostsForTag("blog", 0, 0))
	assert.Equal(t, []string{"b", "a"}, idx.PostsForTag(" BLOG ", 10, 0))
	assert.Equal(t, []string{"a"}, idx.PostsForTag("flask", 0, 0))
	assert.Empty(t, idx.PostsForTag("missing", 0, 0))
}

func TestPostsForTag_TiesBrokenByIDDescending(t *testing.T) {
	idx := New()
	for _, id := range []string{"b", "c", "a"} {
		idx.AddPost(Entry{ID: id, Tags: []string{"go"}, CreatedAt: base})
	}
	assert.Equal(t, []string{"c", "b", "a"}, idx.PostsForTag("go", 0, 0))
}

func TestPostsForTag_Paging(t *testing.T) {
	idx := New()
	for i := 0; i < 5; i++ {
		idx.AddPost(Entry{ID: fmt.Sprintf("p%d", i), Tags: []string{"go"}, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	assert.Equal(t, []string{"p4", "p3"}, idx.PostsForTag("go", 2, 0))
	assert.Equal(t, []string{"p2", "p1"}, idx.PostsForTag("go", 2, 2))
	assert.Equal(t, []string{"p0"}, idx.PostsForTag("go", 2, 4))
	assert.Empty(t, idx.PostsForTag("go", 2, 6))
	assert.Equal(t, []string{"p4"}, idx.PostsForTag("go", 1, -3))
}

func TestAddRemove_Idempotent(t *testing.T) {
	idx := New()
	e := Entry{ID: "a", Tags: []string{"go"}, CreatedAt: base}

	idx.AddPost(e)
	idx.AddPost(e)
	assert.Equal(t, 1, idx.Count("go"))

	idx.RemovePost("a", "go")
	idx.RemovePost("a", "go")
	idx.RemovePost("unknown", "go", "rust")
	assert.Equal(t, 0, idx.Count("go"))
	assert.Equal(t, 0, idx.Len())
}

func TestApply_SymmetricDifference(t *testing.T) {
	idx := New()
	before := Entry{ID: "a", Tags: []string{"go", "web"}, CreatedAt: base}
	idx.Apply(nil, &before)
	idx.AddPost(Entry{ID: "b", Tags: []string{"web"}, CreatedAt: base.Add(time.Hour)})

	after := Entry{ID: "a", Tags: []string{"web", "db"}, CreatedAt: base}
	idx.Apply(&before, &after)

	assert.Empty(t, idx.PostsForTag("go", 0, 0))
	assert.Equal(t, []string{"a"}, idx.PostsForTag("db", 0, 0))
	assert.Equal(t, []string{"b", "a"}, idx.PostsForTag("web", 0, 0))

	idx.Apply(&after, nil)
	assert.Empty(t, idx.PostsForTag("db", 0, 0))
	assert.Equal(t, []string{"b"}, idx.PostsForTag("web", 0, 0))
}

func TestRebuild_ReplacesContents(t *testing.T) {
	idx := New()
	idx.AddPost(Entry{ID: "stale", Tags: []string{"old"}, CreatedAt: base})

	idx.Rebuild([]Entry{
		{ID: "a", Tags: []string{"Go"}, CreatedAt: base, Published: true},
		{ID: "b", Tags: []string{"go", "db"}, CreatedAt: base.Add(time.Minute), Published: true},
		{ID: "b", Tags: []string{"go"}, CreatedAt: base.Add(time.Minute), Published: true},
		{ID: "c", Tags: []string{"secret"}, CreatedAt: base},
	})

	assert.Empty(t, idx.PostsForTag("old", 0, 0))
	assert.Equal(t, []string{"b", "a"}, idx.PostsForTag("go", 0, 0))
	assert.Equal(t, []TagCount{{Tag: "go", Count: 2}, {Tag: "db", Count: 1}}, idx.Tags())
	assert.Equal(t, []string{"c"}, idx.PostsForTag("secret", 0, 0))
}

func TestApply_PublicationChangeRefreshesEntries(t *testing.T) {
	idx := New()
	draft := Entry{ID: "a", Tags: []string{"go"}, CreatedAt: base}
	idx.Apply(nil, &draft)
	assert.Empty(t, idx.Tags())

	published := draft
	published.Published = true
	idx.Apply(&draft, &published)
	assert.Equal(t, []TagCount{{Tag: "go", Count: 1}}, idx.Tags())
	assert.Equal(t, []string{"a"}, idx.PostsForTag("go", 0, 0))
}

func TestChange_StagesAddsBeforeCommit(t *testing.T) {
	idx := New()
	before := Entry{ID: "a", Tags: []string{"go"}, CreatedAt: base, Published: true}
	idx.AddPost(before)

	after := Entry{ID: "a", Tags: []string{"db"}, CreatedAt: base, Published: true}
	change := idx.Begin(&before, &after)

	// Until commit the new tag is only a candidate; the old one still lists the post.
	assert.Equal(t, []string{"a"}, idx.PostsForTag("go", 0, 0))
	assert.Empty(t, idx.PostsForTag("db", 0, 0))
	assert.Equal(t, []string{"a"}, idx.Candidates("db"))
	assert.Equal(t, []TagCount{{Tag: "go", Count: 1}}, idx.Tags())

	change.Commit()
	assert.Empty(t, idx.PostsForTag("go", 0, 0))
	assert.Equal(t, []string{"a"}, idx.PostsForTag("db", 0, 0))
	assert.Equal(t, []TagCount{{Tag: "db", Count: 1}}, idx.Tags())
}

func TestChange_StagedCreateHiddenUntilCommit(t *testing.T) {
	idx := New()
	idx.AddPost(Entry{ID: "old", Tags: []string{"go"}, CreatedAt: base, Published: true})

	created := Entry{ID: "new", Tags: []string{"go", "db"}, CreatedAt: base.Add(time.Minute), Published: true}
	change := idx.Begin(nil, &created)

	assert.Equal(t, []string{"old"}, idx.PostsForTag("go", 0, 0))
	assert.Empty(t, idx.PostsForTag("db", 0, 0))
	assert.Equal(t, 1, idx.Count("go"))
	assert.Equal(t, []TagCount{{Tag: "go", Count: 1}}, idx.Tags())
	assert.Equal(t, []string{"new", "old"}, idx.Candidates("go"))

	change.Commit()
	assert.Equal(t, []string{"new", "old"}, idx.PostsForTag("go", 0, 0))
	assert.Equal(t, []TagCount{{Tag: "go", Count: 2}, {Tag: "db", Count: 1}}, idx.Tags())
}

func TestChange_FailedCreateNeverListed(t *testing.T) {
	idx := New()
	created := Entry{ID: "ghost", Tags: []string{"go"}, CreatedAt: base, Published: true}
	change := idx.Begin(nil, &created)
	assert.Empty(t, idx.PostsForTag("go", 0, 0))
	assert.Empty(t, idx.Tags())

	change.Rollback()
	assert.Empty(t, idx.Candidates("go"))
	assert.Zero(t, idx.Len())
}

func TestChange_Rollback(t *testing.T) {
	idx := New()
	before := Entry{ID: "a", Tags: []string{"go"}, CreatedAt: base}
	idx.AddPost(before)

	after := Entry{ID: "a", Tags: []string{"go", "db"}, CreatedAt: base}
	idx.Begin(&before, &after).Rollback()

	assert.Empty(t, idx.PostsForTag("db", 0, 0))
	assert.Equal(t, []string{"a"}, idx.PostsForTag("go", 0, 0))

	created := Entry{ID: "b", Tags: []string{"rust"}, CreatedAt: base}
	idx.Begin(nil, &created).Rollback()
	assert.Equal(t, 0, idx.Count("rust"))
}

func TestSnapshotsAreImmutableForReaders(t *testing.T) {
	idx := New()
	idx.AddPost(Entry{ID: "a", Tags: []string{"go"}, CreatedAt: base})

	held := idx.snap.Load()
	idx.AddPost(Entry{ID: "b", Tags: []string{"go"}, CreatedAt: base.Add(time.Second)})
	idx.RemovePost("a", "go")

	require.Len(t, held.tags["go"], 1)
	assert.Equal(t, "a", held.tags["go"][0].id)
	assert.Equal(t, []string{"b"}, idx.PostsForTag("go", 0, 0))
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx.AddPost(Entry{ID: fmt.Sprintf("w%d-%d", w, i), Tags: []string{"go"}, CreatedAt: base.Add(time.Duration(i) * time.Second)})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ids := idx.PostsForTag("go", 10, 0)
				assert.LessOrEqual(t, len(ids), 10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, idx.Count("go"))
}
