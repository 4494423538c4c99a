package utils

import (
	"os"
	"strings"
)

// Expand substitutes $VAR and ${VAR} references in value. Lookups consult
// vars first and then the process environment; unknown references are left
// untouched so that shell fragments survive expansion.
func Expand(value string, vars map[string]string) string {
	if !strings.Contains(value, "$") {
		return value
	}

	var out strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '$' || i+1 >= len(value) {
			out.WriteByte(c)
			continue
		}

		if value[i+1] == '$' {
			out.WriteByte('$')
			i++
			continue
		}

		var name string
		var end int
		if value[i+1] == '{' {
			closing := strings.IndexByte(value[i+2:], '}')
			if closing < 0 {
				out.WriteByte(c)
				continue
			}
			name = value[i+2 : i+2+closing]
			end = i + 2 + closing
		} else {
			j := i + 1
			for j < len(value) && isNameByte(value[j], j == i+1) {
				j++
			}
			if j == i+1 {
				out.WriteByte(c)
				continue
			}
			name = value[i+1 : j]
			end = j - 1
		}

		if replacement, ok := lookup(name, vars); ok {
			out.WriteString(replacement)
		} else {
			out.WriteString(value[i : end+1])
		}
		i = end
	}
	return out.String()
}

func lookup(name string, vars map[string]string) (string, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}
