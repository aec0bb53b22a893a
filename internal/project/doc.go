// Package project applies the update-allowed subset of an extracted
// release onto a live instance directory. The allow-list is exhaustive:
// only paths named in the policy's update list are ever written, and paths
// in the preserve sets are never touched. Each file is replaced through
// go-update, which copies the existing file aside and restores it if the
// replacement fails, so a single failing file never leaves the destination
// corrupted or missing.
package project
