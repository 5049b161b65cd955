package manifest

// Tag identifies a field within an encoded VersionEdit record. Values
// match classic LevelDB's version_edit.cc numbering so a MANIFEST
// produced by this package reads back bit-for-bit under any reader
// that implements the same tag space.
type Tag uint32

const (
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastSequence   Tag = 4
	TagCompactPointer Tag = 5
	TagDeletedFile    Tag = 6
	TagNewFile        Tag = 7
	// 8 was kLargeValueRef in an early LevelDB revision, retired before
	// the format stabilized. The number is permanently skipped.
	TagPrevLogNumber Tag = 9
)
