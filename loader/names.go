package loader

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeFilename reduces an uploaded filename to something that can live in
// the storage directory and be used as a document id.
func SafeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ".")
	if name == "" || strings.EqualFold(name, "pdf") {
		return "upload_" + randomHex() + ".pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func randomHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// uniqueName appends a short random suffix when name is already taken.
func uniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		candidate := stem + "_" + randomHex()[:8] + ext
		if !taken(candidate) {
			return candidate
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func generateTitle(fileName string) string {
	fileName = filepath.Base(fileName)
	if strings.HasSuffix(strings.ToLower(fileName), ".pdf") {
		fileName = fileName[:len(fileName)-4]
	}
	fileName = strings.ReplaceAll(fileName, "_", " ")
	fileName = strings.ReplaceAll(fileName, "-", " ")
	return fileName
}
