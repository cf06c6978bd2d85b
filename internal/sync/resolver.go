package sync

import (
	"fmt"

	"github.com/harborlight/marksync/internal/model"
)

// Winner names the side whose value survives a conflict.
type Winner int

const (
	// WinnerRemote means the remote value overwrites the local record.
	WinnerRemote Winner = iota
	// WinnerLocal means the local value overwrites the remote record.
	WinnerLocal
)

// Resolver decides the winning side for a matched pair whose favorite flags
// disagree. Implementations must be stateless and safe for concurrent use.
type Resolver interface {
	Resolve(local, remote *model.FavoriteRecord) Winner
}

// RemoteWins is the default policy: the remote record is authoritative and
// the local record is overwritten to match it, adopting the remote
// timestamp. This guarantees convergence to a single designated source of
// truth without vector clocks, at the cost of the stale-device overwrite
// gap described in the design notes.
type RemoteWins struct{}

func (RemoteWins) Resolve(_, _ *model.FavoriteRecord) Winner { return WinnerRemote }

// LastWriterWins compares LastModified on both sides and keeps the newer
// write. Equal timestamps favour the remote side, preserving the default
// policy's convergence property.
type LastWriterWins struct{}

func (LastWriterWins) Resolve(local, remote *model.FavoriteRecord) Winner {
	if local.LastModified.After(remote.LastModified) {
		return WinnerLocal
	}
	return WinnerRemote
}

// ResolverForPolicy maps a config policy name to a Resolver.
func ResolverForPolicy(name string) (Resolver, error) {
	switch name {
	case "", "remote-wins":
		return RemoteWins{}, nil
	case "last-writer-wins":
		return LastWriterWins{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", name)
	}
}
