// Package delivery writes buffered Measurements to a Sink.
//
// Engine.Run drains the pipeline queue into a local buffer once per tick and
// writes it in batches. The buffer is bounded: when it overflows the oldest
// measurements are evicted and the loss is logged at error level. Usage above
// 50% emits a warning whose threshold rises by 10% after each warning.
//
// Write failures are split in two classes:
//
//   - ErrRetentionRejected: the sink refuses data older than its retention
//     window. The buffer is sorted newest-first and the batch size is halved
//     until a single rejected measurement remains; it and every older buffered
//     measurement are then purged. No backoff delay applies.
//   - any other error: the connection is considered lost and the retry interval
//     doubles from retry_interval up to max_retry_interval.
//
// Every successful write doubles the batch size back towards its maximum.
// Tick is exported so tests can drive the engine with an injectable clock.
package delivery
