// Package pathutil provides job name and source path validation.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/superdup-project/superdup/pkg/errclass"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateJobName checks that a job name is safe to use as a log
// directory component and a report label.
func ValidateJobName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("job name must not be empty")
	}

	// NFC normalize so visually identical names compare equal
	name = norm.NFC.String(name)

	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("job name must not contain control characters: %q", name)
		}
	}

	if !nameRegex.MatchString(name) {
		return errclass.ErrNameInvalid.WithMessagef("job name must match [a-zA-Z0-9._-]+: %s", name)
	}

	return nil
}

// ValidateSourceDir checks that a job's source exists and is an
// absolute directory path.
func ValidateSourceDir(path string) error {
	if path == "" {
		return errclass.ErrConfigInvalid.WithMessage("source must not be empty")
	}
	if !filepath.IsAbs(path) {
		return errclass.ErrConfigInvalid.WithMessagef("source must be absolute: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("source not accessible: %v", err)
	}
	if !info.IsDir() {
		return errclass.ErrConfigInvalid.WithMessagef("source is not a directory: %s", path)
	}
	return nil
}
