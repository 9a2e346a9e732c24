// Package extract turns raw device responses into Measurements by walking a
// schema.Node tree.
//
// Engine.Extract applies the node to the raw data in a fixed order: exclude
// check, value resolution, absence check, type coercion, measurement
// construction, optional duplicate suppression and finally recursion into
// list elements or map values. Extraction problems are logged per metric and
// never abort the remaining metrics of a response.
//
// Tracker remembers the identity of every measurement emitted for a service
// with tracking enabled so that repeated log lines and call list entries are
// only sent once.
package extract
