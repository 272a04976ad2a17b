package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanindex/coreengine/internal/model"
)

func TestTransform_IDMatchesChunkID(t *testing.T) {
	tr := New()
	chunks := []model.Chunk{
		{ChunkID: "c1", RepoID: "r1", SnapshotID: "s1", FilePath: "a.go", Kind: model.ContentFunction, Code: "func Foo() {}"},
	}
	docs := tr.Transform(chunks, nil, nil)
	require.Len(t, docs, 1)
	assert.Equal(t, "c1", docs[0].ID)
	assert.Contains(t, docs[0].Content, "[CODE] func Foo() {}")
}

func TestTransform_ComposesAllSections(t *testing.T) {
	tr := New()
	chunks := []model.Chunk{
		{
			ChunkID: "c1", RepoID: "r1", SnapshotID: "s1",
			Doc: "does a thing", Signature: "func Foo(x int) int", Code: "func Foo(x int) int { return x }",
			Module: "pkg/foo", Kind: model.ContentFunction,
		},
	}
	docs := tr.Transform(chunks, nil, nil)
	content := docs[0].Content
	assert.Contains(t, content, "[SUMMARY] does a thing")
	assert.Contains(t, content, "[SIGNATURE] func Foo(x int) int")
	assert.Contains(t, content, "[CODE] func Foo(x int) int { return x }")
	assert.Contains(t, content, "[META] kind=function,module=pkg/foo")
}

func TestTransform_OmitsEmptySections(t *testing.T) {
	tr := New()
	chunks := []model.Chunk{
		{ChunkID: "c1", RepoID: "r1", SnapshotID: "s1", Code: "x = 1", Kind: model.ContentModule},
	}
	docs := tr.Transform(chunks, nil, nil)
	content := docs[0].Content
	assert.NotContains(t, content, "[SUMMARY]")
	assert.NotContains(t, content, "[SIGNATURE]")
	assert.Contains(t, content, "[CODE] x = 1")
}

func TestTransform_IdentifiersDedupedAndCapped(t *testing.T) {
	tr := New()
	chunks := []model.Chunk{
		{
			ChunkID: "c1", RepoID: "r1", SnapshotID: "s1", Kind: model.ContentFunction,
			Symbol: &model.Symbol{Name: "Foo", FQN: "pkg.Foo"},
			Code:   "def Foo(x):\n  pass\ndef bar():\n  pass\nclass Baz:\n  pass\nqux = 1\nfoo = 2",
		},
	}
	docs := tr.Transform(chunks, nil, nil)
	ids := docs[0].Identifiers
	assert.LessOrEqual(t, len(ids), 10)
	// "Foo" from symbol and "foo" from content dedupe case-insensitively
	count := 0
	for _, id := range ids {
		if id == "Foo" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, ids, "bar")
	assert.Contains(t, ids, "Baz")
	assert.Contains(t, ids, "qux")
}

func TestTransform_TagsIncludeAvailableFields(t *testing.T) {
	tr := New()
	repomap := &model.RepoMapSnapshot{Scores: map[string]float64{"c1": 0.75}}
	chunks := []model.Chunk{
		{
			ChunkID: "c1", RepoID: "r1", SnapshotID: "s1", Kind: model.ContentFunction,
			Module: "pkg/foo", ParentID: "parent1", IsEntry: true, Code: "x",
			Symbol: &model.Symbol{Name: "Foo", Visibility: "public", IsTest: true},
		},
	}
	docs := tr.Transform(chunks, repomap, nil)
	tags := docs[0].Tags
	assert.Equal(t, "function", tags["kind"])
	assert.Equal(t, "0.75", tags["repomap_score"])
	assert.Equal(t, "pkg/foo", tags["module"])
	assert.Equal(t, "public", tags["visibility"])
	assert.Equal(t, "parent1", tags["parent_chunk_id"])
	assert.Equal(t, "true", tags["is_entrypoint"])
	assert.Equal(t, "true", tags["is_test"])
}

func TestTransform_NeverFailsEmitsDocument(t *testing.T) {
	tr := New()
	// No doc, signature, code, or source lookup: composeContent still emits
	// the "[META] kind=..." section, so the chunk yields a document with
	// non-empty content instead of being dropped.
	chunks := []model.Chunk{
		{ChunkID: "c1", RepoID: "r1", SnapshotID: "s1", Kind: model.ContentFile},
	}
	docs := tr.Transform(chunks, nil, nil)
	require.Len(t, docs, 1)
	assert.Equal(t, "c1", docs[0].ID)
	assert.NotEmpty(t, docs[0].Content)
}
