/*
Package content is the content-addressed filesystem store for fetched
artifacts: raw bytes, cleaned markdown, sidecar metadata, and images, laid
out at <root>/<kind>/<YYYY>/<MM>/<DD>/<reference_id>/.

Commit never holds a lock across the write: it stages every file under a
tmp-<random> directory, fsyncs each one, renames the directory into its
final path, then writes a .committed sentinel. A directory without that
sentinel is an incomplete write, never a terminal-good artifact — Reclaim
deletes such directories on boot so a crash mid-commit cannot leave a
half-written artifact looking finished.
*/
package content
