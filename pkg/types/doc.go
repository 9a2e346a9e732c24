// Package types defines the data types shared by the extraction engine, the
// scheduler and the delivery pipeline.
//
// Measurement is the single emitted data point: a metric name, a typed value
// (int64, float64, bool or string), a zone-aware timestamp, the box tag that
// identifies the polled device and an ordered list of additional tags.
// Measurements are built by the extraction engine and are never modified
// afterwards; Identity() derives a content hash used to suppress re-emission of
// already seen log entries.
//
// ValueType enumerates the schema types a metric can declare. Scalar types
// (int, float, bool, string) produce one Measurement; container types (list,
// map) fan out over their elements.
package types
