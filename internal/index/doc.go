// Package index persists per-(source, target) completion records so
// unchanged files are not re-encoded across restarts. The comparison key is
// an opaque change token supplied by the snapshot layer.
package index
