// Package resource provides the Resource value type shared by the TLV
// codec (package tlv) and the client object registry (package
// objectregistry). See Resource for the single- and multiple-instance
// shapes and the typed As* accessors.
package resource
