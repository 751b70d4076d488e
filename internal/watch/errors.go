package watch

import "errors"

var (
	// ErrMissingReceiptOrBlockHash is returned when the receipt is nil or
	// carries no containing-block hash, so there is nothing to watch.
	ErrMissingReceiptOrBlockHash = errors.New("watch: receipt or its block hash is missing")

	// ErrReceiptMissingBlockNumber is returned when the receipt has no
	// containing-block number.
	ErrReceiptMissingBlockNumber = errors.New("watch: receipt has no block number")
)
