// Package record provides the column-oriented tree batch used throughout the
// conversion pipeline, plus conversion to and from Apache Arrow records.
// Arrow is the boundary representation: tree sources hand in Arrow record
// batches and exporters hand them out; the pipeline works on Batch.
package record
