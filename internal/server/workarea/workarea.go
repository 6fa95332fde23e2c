// Package workarea gives each request a private directory for its input
// and output files.
package workarea

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/gophdeobf/internal/filex"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Sanitize reduces an untrusted filename to its last path element and
// replaces every character outside [A-Za-z0-9._-] with '_'. Backslashes
// count as separators too.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(name)
	switch base {
	case ".", "..", "/", "":
		return "_"
	}
	return unsafeChars.ReplaceAllString(base, "_")
}

// Area is one request's namespace on disk: root/<requestID>/.
type Area struct {
	Dir        string
	InputPath  string
	OutputPath string
}

// New creates root/<requestID>/ and derives the artifact paths inside it.
// It fails if the directory already exists, so two requests can never
// share one.
func New(root, requestID, filename string) (*Area, error) {
	if requestID == "" || Sanitize(requestID) != requestID {
		return nil, fmt.Errorf("invalid request id %q", requestID)
	}

	root, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, requestID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create work area: %w", err)
	}

	return &Area{
		Dir:        dir,
		InputPath:  filepath.Join(dir, "input_"+requestID+"_"+Sanitize(filename)),
		OutputPath: filepath.Join(dir, "output_"+requestID+".lua"),
	}, nil
}

// WriteInput stores the source bytes at InputPath.
func (a *Area) WriteInput(b []byte) error {
	return os.WriteFile(a.InputPath, b, 0o600)
}

// Cleanup removes the input, the output and the directory itself along
// with anything else the tool left there. Every step is attempted; the
// returned error joins whatever failed.
func (a *Area) Cleanup() error {
	var errs []error
	if err := filex.RemoveIfExists(a.InputPath); err != nil {
		errs = append(errs, err)
	}
	if err := filex.RemoveIfExists(a.OutputPath); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(a.Dir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
