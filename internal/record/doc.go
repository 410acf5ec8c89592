// Package record defines the replicated unit of data and its identity.
//
// Every device (host) owns one append-only stream per tag. A stream is
// addressed by (HostID, Tag) and its records are numbered by Idx starting at
// zero. Each record names its predecessor through Parent, so a stream forms a
// linked chain that makes truncation and reordering detectable:
//
//	idx 0: parent = nil
//	idx n: parent = id of record at idx n-1
//
// Record is generic over its payload representation. Records are stored and
// transmitted as Record[Encrypted]; after opening an envelope they become
// Record[Decrypted], and builders work on Record[T] for a typed operation T.
//
// This package imports nothing internal. Every other package builds on it.
package record
