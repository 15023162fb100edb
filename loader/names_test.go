package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstream/types"
)

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "my report (final).PDF", want: "my_report_final_.PDF"},
		{in: "../../etc/passwd", want: "_.._etc_passwd.pdf"},
		{in: `C:\docs\plan.pdf`, want: "C__docs_plan.pdf"},
		{in: "notes", want: "notes.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeFilename(tt.in))
		})
	}
}

func TestSafeFilename_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", ".pdf"} {
		got := SafeFilename(in)
		assert.Regexp(t, `^upload_[0-9a-f]{32}\.pdf$`, got, "input %q", in)
	}
}

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{"a.pdf": true}
	got := uniqueName("a.pdf", func(n string) bool { return taken[n] })
	assert.Regexp(t, `^a_[0-9a-f]{8}\.pdf$`, got)
	assert.Equal(t, "b.pdf", uniqueName("b.pdf", func(n string) bool { return taken[n] }))
}

func TestGenerateTitle(t *testing.T) {
	assert.Equal(t, "annual report 2024", generateTitle("annual_report-2024.pdf"))
	assert.Equal(t, "Plain", generateTitle("/srv/docs/Plain.PDF"))
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a b", "b c", "c d", "d e"}, splitWords("a b c d e", 2, 1))
	assert.Equal(t, []string{"a b c", "d e"}, splitWords("a  b\nc d e", 3, 0))
	assert.Equal(t, []string{"a b c"}, splitWords("a b c", 10, 3))
	assert.Nil(t, splitWords("   ", 10, 3))
	// overlap not smaller than size is ignored
	assert.Equal(t, []string{"a b", "c"}, splitWords("a b c", 2, 2))
}

func TestBuildChunks(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "one two three"},
		{Number: 2, Text: ""},
		{Number: 3, Text: "four five"},
	}
	chunks := buildChunks("doc.pdf", pages, 2, 0)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc.pdf", c.DocID)
	}
	assert.Equal(t, []int{1, 1, 3}, []int{chunks[0].Page, chunks[1].Page, chunks[2].Page})
	assert.Contains(t, chunks[2].Terms, "four")
}

func TestFindQueryPositions(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "The Quick brown fox"},
		{Number: 2, Text: "nothing here"},
		{Number: 3, Text: "fox\nagain"},
	}
	hits := FindQueryPositions(pages, "FOX")
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Page)
	assert.Equal(t, "The Quick brown fox", hits[0].Snippet)
	assert.Equal(t, "fox again", hits[1].Snippet)
}

func TestFindQueryPositions_Window(t *testing.T) {
	text := strings.Repeat("a", 200) + "needle" + strings.Repeat("b", 200)
	hits := FindQueryPositions([]Page{{Number: 1, Text: text}}, "needle")
	require.Len(t, hits, 1)
	assert.Equal(t, strings.Repeat("a", 80)+"needle"+strings.Repeat("b", 80), hits[0].Snippet)
}

func TestFindQueryPositions_KeepsCasing(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "Trip to İstanbul in MAY"},
		{Number: 2, Text: "Café CRÈME recipe"},
	}

	hits := FindQueryPositions(pages, "istanbul")
	assert.Equal(t, []types.PageHit{{Page: 1, Snippet: "Trip to İstanbul in MAY"}}, hits)

	hits = FindQueryPositions(pages, "crème")
	assert.Equal(t, []types.PageHit{{Page: 2, Snippet: "Café CRÈME recipe"}}, hits)
}

func TestFindQueryPositions_WindowCountsCharacters(t *testing.T) {
	text := strings.Repeat("é", 100) + "Needle" + strings.Repeat("ü", 100)
	hits := FindQueryPositions([]Page{{Number: 1, Text: text}}, "needle")
	require.Len(t, hits, 1)
	assert.Equal(t, strings.Repeat("é", 80)+"Needle"+strings.Repeat("ü", 80), hits[0].Snippet)
}

func TestFindQueryPositions_EmptyQuery(t *testing.T) {
	hits := FindQueryPositions([]Page{{Number: 1, Text: "anything"}}, "  ")
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}
