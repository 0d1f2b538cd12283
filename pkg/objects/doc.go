// Package objects provides objectregistry descriptors for the three
// mandatory LWM2M objects every client carries regardless of its
// application-specific object set: Security (0), Server (1), and
// Device (3).
package objects
