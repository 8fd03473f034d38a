package datasync

import (
	"errors"

	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
)

// onRemoteChange returns the handler for change notifications on c. The
// changed row is not inspected; every notification triggers one full refetch
// in the background.
func (s *Store) onRemoteChange(c types.Collection) storage.ChangeHandler {
	return func(change storage.Change) {
		s.metrics.RecordRealtimeChange(change.Table, string(change.Type))

		started := s.goTracked(func() {
			if err := s.Refresh(s.bgCtx, c); err != nil && !errors.Is(err, ErrDisposed) {
				s.logger.Debug().Err(err).Str("collection", string(c)).Msg("refetch after change failed")
			}
		})
		if !started {
			return
		}

		s.logger.Debug().
			Str("collection", string(c)).
			Str("type", string(change.Type)).
			Msg("change received, refetching")
	}
}
