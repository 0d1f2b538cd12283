// Package objectregistry is the client's object model: a static table
// of descriptors the application supplies at startup, and the dynamic
// set of object instances that exist on the device at any given moment.
package objectregistry
