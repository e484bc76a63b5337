// Package rows defines the public iterator surface for columnar results.
package rows

import (
	"github.com/apache/arrow/go/v12/arrow"
)

// ArrowBatchIterator iterates over the record batches of one executed
// statement. A result set can be consumed through exactly one iterator;
// requesting a second one fails.
type ArrowBatchIterator interface {
	// Retrieve the next arrow.Record.
	// Will return io.EOF if there are no more records.
	// The caller must call Release on the returned record when done with it.
	Next() (arrow.Record, error)

	// Return true if the iterator contains more batches, false otherwise.
	HasNext() bool

	// Release any resources in use by the iterator, including the
	// server side result set if it is still open.
	Close()

	// Schema returns the Arrow schema of the batches.
	Schema() *arrow.Schema
}
