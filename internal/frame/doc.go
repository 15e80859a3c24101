// Package frame implements the columnar codec shared by the RPC surface, the
// graph backend and the sandbox. It converts between the wire DataFrame
// (headers plus one typed Series per column) and the in-process Row/Table
// representation, and defines the little-endian binary layout used to move
// rows, tables and string lists across the guest memory boundary.
//
// Six value kinds are supported: bool, int32, int64, float32, float64 and
// string. A column whose kind is not recognized is carried as KindNil and is
// skipped, never rejected.
package frame
