package utils

import (
	"os"
	"runtime"
	"strings"
	"time"
)

func fileTimeNow() time.Time {
	return time.Now()
}

func executableExtensions() []string {
	if runtime.GOOS != "windows" {
		return []string{""}
	}

	exts := []string{""}
	for _, ext := range strings.Split(os.Getenv("PATHEXT"), ";") {
		if ext != "" {
			exts = append(exts, strings.ToLower(ext))
		}
	}
	if len(exts) == 1 {
		exts = append(exts, ".exe", ".bat", ".cmd")
	}
	return exts
}

func isExecutable(info os.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
