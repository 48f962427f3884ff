// Harvester exports satellite image crops for geocoded wildfire detections
// into partitioned dataset folders in cloud storage.
//
// Usage:
//
//	harvester export [--start-row N] [--config FILE]
//	harvester tasks summary
//	harvester tasks cancel-pending [--dry-run]
//	harvester splits check
//
// Every setting can also be supplied through HARVESTER_* environment
// variables, e.g. HARVESTER_PIPELINE_WORKERS=16.
//
// The export command exits 0 when it submitted at least one export, 10 when
// the run finished without submitting anything, and 1 on failure. An external
// retry loop can stop once it sees 10.
package main
