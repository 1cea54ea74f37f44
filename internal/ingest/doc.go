// Package ingest turns delimited object streams into transactionally
// committed row batches.
//
// # Architecture
//
// Data flows strictly downstream, with only a row count or an error
// flowing back:
//
//	Pipeline.Process
//	  └─ ObjectStore.Open          (byte stream, closed on every path)
//	  └─ TxBeginner.BeginTx        (one transaction per object)
//	      └─ Decoder               (lazy rows, header consumed once)
//	          └─ Batcher           (at most one pending batch)
//	              └─ Writer.Write  (one statement per batch)
//	  └─ Commit | Rollback
//
// Memory use is O(batch size): the decoder never buffers more than the
// current line and the batcher reuses one slice for the pending batch.
//
// # Atomicity
//
// All batches of one object share a transaction. If any batch fails, the
// transaction is rolled back on a context detached from the caller, so a
// cancelled invocation still releases its connection cleanly, and the
// original error is returned. There is no partial commit.
//
// # Sink representation
//
// [ModeJSON] stores each row as one JSON object in a payload column.
// [ModeColumns] writes one text column per header field. Both carry the
// source bucket, key and line so that re-delivered objects can replace
// their earlier rows inside the same transaction.
//
// # Errors
//
// Failures are typed ([DecodeError], [SinkError]) or sentinel
// ([ErrObjectNotFound], [ErrAccessDenied], [ErrEmptyBody]). [Classify]
// maps any of them to a stable code and a retryable flag.
package ingest
