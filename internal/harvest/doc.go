// Package harvest defines the core types and collaborator interfaces shared by
// the export pipeline: events read from the detection manifest, resolved
// destinations, catalog images, and handles to remote export jobs.
package harvest
