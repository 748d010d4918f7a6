// Package watcher monitors a drop folder and splits every recording that
// lands in it.
package watcher
