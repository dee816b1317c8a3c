// Package files reads revisions from a directory of YAML files named
// R<id>_<name>.yaml. Each file declares one revision: its id, the id of
// its parent, and the ordered upgrade and downgrade operation lists.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/root-talis/rensa/revision"
	"github.com/root-talis/rensa/source"
)

const fileSuffix = ".yaml"

var (
	ErrRevisionsDirectoryIsNotADirectory = errors.New("revisionsDirectory is not a directory")
	ErrRevisionIDMismatch                = errors.New("revision id in file does not match its file name")
)

type filesSource struct {
	fs           fs.FS
	revisionsDir string
}

func NewFilesSource(fsys fs.FS, revisionsDirectory string) (source.Source, error) {
	stat, err := fs.Stat(fsys, revisionsDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to stat revisions directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, ErrRevisionsDirectoryIsNotADirectory
	}

	return &filesSource{
		fs:           fsys,
		revisionsDir: revisionsDirectory,
	}, nil
}

func (rdr *filesSource) GetAvailableRevisions() (*[]revision.Revision, error) {
	dirEntries, err := fs.ReadDir(rdr.fs, rdr.revisionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of revisions directory: %w", err)
	}

	seen := make(map[revision.ID]string, len(dirEntries))
	result := make([]revision.Revision, 0, len(dirEntries))

	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		fileName := entry.Name()
		id, name, err := parseFileName(fileName)
		if err != nil {
			continue
		}

		if first, exists := seen[id]; exists {
			return nil, fmt.Errorf(
				"%w: %s is declared by both %s and %s",
				source.ErrRevisionDuplicated, id, first, fileName,
			)
		}
		seen[id] = fileName

		rev, err := rdr.readRevisionFile(fileName, id, name)
		if err != nil {
			return nil, err
		}

		result = append(result, rev)
	}

	return &result, nil
}

type revisionFile struct {
	ID     revision.ID   `yaml:"id"`
	Parent revision.ID   `yaml:"parent"`
	Name   string        `yaml:"name"`
	Up     []revision.Op `yaml:"up"`
	Down   []revision.Op `yaml:"down"`
}

func (rdr *filesSource) readRevisionFile(fileName string, id revision.ID, name string) (revision.Revision, error) {
	raw, err := fs.ReadFile(rdr.fs, path.Join(rdr.revisionsDir, fileName))
	if err != nil {
		return revision.Revision{}, fmt.Errorf("failed to read revision file %s: %w", fileName, err)
	}

	var doc revisionFile
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return revision.Revision{}, fmt.Errorf("failed to parse revision file %s: %w", fileName, err)
	}

	if doc.ID != "" && doc.ID != id {
		return revision.Revision{}, fmt.Errorf(
			"%w: file %s declares id %s", ErrRevisionIDMismatch, fileName, doc.ID,
		)
	}

	if doc.Name != "" {
		name = doc.Name
	}

	return revision.Revision{
		ID:     id,
		Parent: doc.Parent,
		Name:   name,
		Up:     doc.Up,
		Down:   doc.Down,
	}, nil
}

// parseFileName splits R<id>_<name>.yaml into its id and name parts.
// Anything that does not match the convention is reported as an error and
// skipped by the caller.
func parseFileName(fileName string) (revision.ID, string, error) {
	if !strings.HasPrefix(fileName, "R") || !strings.HasSuffix(fileName, fileSuffix) {
		return "", "", fmt.Errorf("revision file name is invalid: %s", fileName)
	}

	fullName := strings.TrimPrefix(fileName, "R")
	fullName = strings.TrimSuffix(fullName, fileSuffix)

	id, name, found := strings.Cut(fullName, "_")
	if !found || id == "" || name == "" {
		return "", "", fmt.Errorf("revision file name must look like R<id>_<name>%s: %s", fileSuffix, fileName)
	}

	for _, c := range id {
		if !unicode.IsDigit(c) && !unicode.IsLetter(c) {
			return "", "", fmt.Errorf(
				"revision file name does not contain a valid id (symbol %q is not allowed): %s",
				c, fileName,
			)
		}
	}

	return revision.ID(id), name, nil
}
