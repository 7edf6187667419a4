/*
Package session drives one browsing session over a folder of images.

A Session owns a PrefetchCache keyed by absolute file path. Every navigation
step (Next, Prev, Jump, Find) updates the cache position synchronously and
then replaces the background preload batch:

	Next()
	  ├─ cache.SetPosition(pos, items)     generation++
	  ├─ cancel previous batch             its results become stale
	  └─ go cache.Preload(ctx)             fetches the neighbours of pos

Reads shared between the cancelled batch and the new one are not repeated;
the new batch picks them up where the old one left off.

With Options.Watch set, a debounced fsnotify watcher re-lists the folder when
images are added, removed or renamed. The current image stays selected when
it still exists.

Navigation on an empty folder returns EMPTY_SOURCE; any call after Close
returns SESSION_CLOSED.
*/
package session
