package source

import (
	"errors"

	"github.com/root-talis/rensa/revision"
)

type Source interface {
	GetAvailableRevisions() (*[]revision.Revision, error)
}

var (
	ErrRevisionDuplicated = errors.New("revision id already exists in another file")
)
