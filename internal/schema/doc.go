// Package schema describes how raw device data maps to metrics.
//
// node.go holds the Node tree: scalar leaves resolve a value through a dotted
// data path or a value extractor, list and map nodes fan out over a collection
// and apply their child node to every element. Tags, timestamp and exclude
// behaviour are pluggable strategies with plain-function adapters.
// Validate rejects malformed trees when the catalog is built.
//
// path.go provides Lookup, the path navigation used for every Path field, and
// small helpers used by the service tables.
//
// coerce.go converts resolved values to the declared scalar type.
package schema
