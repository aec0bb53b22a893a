// Package release finds out which server version is installed, which
// version is the latest upstream, and fetches the release artifact. The
// upstream feed is a JSON manifest of per-platform download links; the
// authoritative version token is the one embedded in the artifact filename,
// not a separate manifest field.
package release
