package realtime

import "errors"

var (
	ErrInvalidPath         = errors.New("realtime: invalid path")
	ErrCollectionWrite     = errors.New("realtime: writes must address a document or a field inside one")
	ErrCollectionSubscribe = errors.New("realtime: cannot subscribe to a whole collection")
	ErrNotContainer        = errors.New("realtime: path runs through a non-object value")
	ErrTxConflict          = errors.New("realtime: too many concurrent writers, transaction gave up")
	ErrNotFound            = errors.New("realtime: nothing stored at path")
	ErrForbidden           = errors.New("realtime: operation not permitted on this path")
	ErrClosed              = errors.New("realtime: store closed")
	ErrDisconnected        = errors.New("realtime: connection lost")
)
