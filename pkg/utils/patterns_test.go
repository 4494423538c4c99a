package utils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

func TestPatternMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"simple wildcard", []string{"*.patch"}, "fix.patch", true},
		{"wildcard stays in directory", []string{"*.patch"}, "sub/fix.patch", false},
		{"double star prefix", []string{"**/*.patch"}, "sub/dir/fix.patch", true},
		{"double star prefix at root", []string{"**/*.patch"}, "fix.patch", true},
		{"double star suffix", []string{"docs/**"}, "docs/a/b.txt", true},
		{"question mark", []string{"v?.txt"}, "v1.txt", true},
		{"question mark separator", []string{"a?b"}, "a/b", false},
		{"character class", []string{"[Ll]icense"}, "License", true},
		{"negated class", []string{"[!L]icense"}, "License", false},
		{"regex metacharacters are literal", []string{"a+b(c).txt"}, "a+b(c).txt", true},
		{"dot is literal", []string{"*.c"}, "mainxc", false},
		{"leading dot slash", []string{"./COPYING"}, "COPYING", true},
		{"windows separators", []string{`sub\*.c`}, "sub/main.c", true},
		{"no match", []string{"*.h"}, "main.c", false},
		{"any pattern", []string{"*.h", "*.c"}, "main.c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, err := utils.NewPatternMatcher(tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pm.Match(tt.path))
		})
	}
}

func TestExclusionMatcher(t *testing.T) {
	em, err := utils.NewExclusionMatcher(append([]string{"*.o", "build/tmp"}, utils.VCSMetadata...))
	require.NoError(t, err)

	excluded := []string{".git", ".git/config", "sub/.hg/store", "CVS", "src/CVS/Root", "main.o", "src/x.o", "build/tmp/a"}
	for _, path := range excluded {
		assert.True(t, em.IsExcluded(path), path)
	}

	kept := []string{"src/main.c", "gitignore", "my.git.txt", "build/out", "CVSROOT.txt"}
	for _, path := range kept {
		assert.False(t, em.IsExcluded(path), path)
	}

	assert.Equal(t, []string{"a.c", "b/c.h"}, em.FilterPaths([]string{"a.c", "a.o", ".svn/entries", "b/c.h"}))
}

func TestMatchGlob(t *testing.T) {
	ok, err := utils.MatchGlob("licenses/**/*.txt", "licenses/gpl/COPYING.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = utils.MatchGlob("*.txt", "licenses/COPYING.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, utils.IsGlobPattern("*.txt"))
	assert.False(t, utils.IsGlobPattern("COPYING"))
}
