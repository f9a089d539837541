package badger

// Database Key Namespace Design
// =============================
//
// BadgerDB is a key-value store, so the filesystem is flattened into two
// prefixed namespaces keyed by the cleaned absolute path inside the mount:
//
//	Data Type   Prefix  Key Format      Value
//	---------------------------------------------------------
//	Metadata    "m:"    m:/foo/bar      nodeMeta (JSON)
//	Content     "d:"    d:/foo/bar      raw file bytes
//
// Directories only have a metadata entry. Listing a directory is a range
// scan over "m:" keys that extend the directory path by exactly one
// component; paths never carry a trailing slash except the root "/", so the
// depth filter is a single IndexByte over the remainder.
//
// Whole files live in a single value. That caps file size at what Badger
// accepts in one value, which is fine for the firmware-sized payloads this
// mount type is meant to persist.

const (
	metaPrefix = "m:"
	dataPrefix = "d:"
)

func metaKey(path string) []byte {
	return []byte(metaPrefix + path)
}

func dataKey(path string) []byte {
	return []byte(dataPrefix + path)
}
