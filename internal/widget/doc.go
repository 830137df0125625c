// Package widget defines the core types and interfaces shared by the widget
// generation pipeline: jobs, fetch results, artifacts, and the contracts the
// stores, fetchers, queue, and publishers implement.
package widget
