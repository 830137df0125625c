// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to queue a widget job, GET /v1/jobs/{job_id} to poll it.
//   - GET /v1/masks/{mask_id}/result for the latest stored result.
//   - GET /embed/{mask_id}, the public iframe document. It is never behind
//     the API key and always answers with HTML.
package api
