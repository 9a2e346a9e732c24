// Package catalog holds the static service definitions of the device and the
// scheduler that polls them.
//
// A Definition names one TR-064 service or web interface page, how often it
// is read and which metrics are extracted from the response. Definitions are
// filtered by firmware version and WAN link type (Select) and handed to one
// Scheduler per source. The scheduler discovers which services the device
// supports, then polls every available service on its interval and pushes the
// extracted measurements into the pipeline queue.
package catalog
