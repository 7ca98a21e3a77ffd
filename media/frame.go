// Package media defines the decoded frame types that flow from the codec
// collaborators through the playback synchronizer to the audio sink and
// renderer.
package media

// AudioQueueSize is the default depth of the audio worker's write queue.
const AudioQueueSize = 64

// Plane is one planar image component.
type Plane struct {
	Width  int
	Height int
	Stride int
	Data   []byte
}

// VideoFrame is one decoded picture in planar Y'CbCr form, ready for
// presentation. Granule is the container granule position of the packet it
// was decoded from.
type VideoFrame struct {
	Granule    int64
	Time       float64
	IsKeyframe bool
	Planes     [3]Plane
	// PictureX/PictureY/PictureWidth/PictureHeight crop the visible region
	// out of the coded frame.
	PictureX      int
	PictureY      int
	PictureWidth  int
	PictureHeight int
}

// AudioSample is a decoded block of interleaved signed 16-bit PCM. Granule
// is the sample position at the end of the block, or -1 until assigned.
type AudioSample struct {
	PCM      []int16
	Samples  int
	Channels int
	Granule  int64
}
