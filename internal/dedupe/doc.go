// Package dedupe provides a bounded, time-windowed seen-set used to
// short-circuit repeated work such as duplicate read acknowledgments.
package dedupe
