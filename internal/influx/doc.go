// Package influx writes measurements to InfluxDB 1.x or 2.x over HTTP.
//
// Every measurement becomes one line-protocol point in the configured
// measurement (default "fritzbox") with the metric name as field key, the box
// and extra tags as tags and millisecond precision. Client implements
// delivery.Sink; a write the server refuses because the points are older than
// its retention policy returns an error wrapping delivery.ErrRetentionRejected.
//
// Before the first write the client makes sure the target exists: a missing
// v1 database is created, a missing v2 bucket is created with a 365 day
// expiry rule.
package influx
