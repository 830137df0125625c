// Package acquire turns a job's source URLs into the aggregated text report
// consumed by the extraction stage.
//
// Each URL is fetched by a TwoTier fetcher: a cheap static fetch first, then a
// headless render when the static text fails the quality gate. The Aggregator
// fans TwoTier out over every URL of a job and renders one labeled block per
// URL, in input order.
package acquire
