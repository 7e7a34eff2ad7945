package constants

// Elasticsearch snapshot API paths used by the reconciler.
const (
	// APIPathSnapshot lists every registered snapshot repository.
	APIPathSnapshot = "/_snapshot"
	// APIPathSnapshotRepositoryPrefix is joined with a repository name for PUT/DELETE.
	APIPathSnapshotRepositoryPrefix = "/_snapshot/"
)

// Settings keys of the repository wire format.
const (
	SettingCompress         = "compress"
	SettingLocation         = "location"
	SettingChunkSize        = "chunk_size"
	SettingMaxRestoreBytes  = "max_restore_bytes_per_sec"
	SettingMaxSnapshotBytes = "max_snapshot_bytes_per_sec"
)
