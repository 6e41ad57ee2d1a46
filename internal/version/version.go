// Package version records the client version. Stores compare it against
// their configured minimum before serving a client.
package version

// Version is the zonesync client version. Must stay a valid semver
// string; the store compatibility gate depends on it.
const Version = "v0.4.0"
