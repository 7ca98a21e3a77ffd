// Package demux splits an Ogg byte source into logical streams, classifies
// them from their header packets and selects the primary audio and video
// streams for playback.
//
// The central type is [Session], created by [Open]. It owns the page reader
// and the stream table, records the data offset (time zero) and the end
// time, and yields reassembled packets per stream through
// [Stream.NextPacket]. A Session also serves as the probing primitive of the
// bisection seeker.
package demux
