package merkle

import (
	"fmt"

	"github.com/mambisi/contextstore/actionlog"
	"github.com/mambisi/contextstore/codec"
)

// Apply maps one recorded context action onto the store. Actions flagged
// Ignored are skipped entirely. Read actions (mem, dir_mem, get, fold) are
// executed for their side effects on timing statistics only; a missing key
// during a read replay is not an error because the recording may predate
// the retained history window.
func (s *MerkleStorage) Apply(action actionlog.Action) error {
	if action.Ignored {
		return nil
	}
	switch action.Kind {
	case actionlog.KindSet:
		return s.Set(action.Key, action.Value)
	case actionlog.KindCopy:
		return s.Copy(action.FromKey, action.Key)
	case actionlog.KindDelete:
		return s.Delete(action.Key)
	case actionlog.KindRemoveRecursively:
		return s.RemoveRecursively(action.Key)
	case actionlog.KindCommit:
		_, err := s.Commit(action.Time, action.Author, action.Message)
		return err
	case actionlog.KindCheckout:
		if len(action.Hash) != HashBytes {
			return fmt.Errorf("%w: checkout hash must be %d bytes", codec.ErrDecode, HashBytes)
		}
		var h EntryHash
		copy(h[:], action.Hash)
		return s.Checkout(h)
	case actionlog.KindMem:
		_, err := s.Mem(action.Key)
		return err
	case actionlog.KindDirMem:
		_, err := s.DirMem(action.Key)
		return err
	case actionlog.KindGet, actionlog.KindFold:
		// reads against aged-out state are tolerated during replay
		_, _ = s.Get(action.Key)
		return nil
	default:
		return fmt.Errorf("%w: unknown action kind %d", codec.ErrDecode, action.Kind)
	}
}
