// Package jobs triggers and tracks runs of the podcast generation workflow.
//
// A trigger is two phases under one per-workflow lock:
//   - dispatch: ask the CI system to start the workflow (no run id comes back)
//   - correlate: poll the run list until the new run appears and label it
//     "<email> triggered event" in the run registry
//
// Once dispatch has been accepted the remaining work ignores caller
// cancellation; the remote run is already started.
package jobs
