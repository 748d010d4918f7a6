// Package segment finds numbered spoken markers in a time-stamped transcript
// and groups the words that follow each marker into segments.
package segment
