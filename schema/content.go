// Package schema defines the message, content, and document types shared
// across the agent, memory, and llm packages.
package schema

// ContentType identifies the kind of a ContentPart.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentFile  ContentType = "file"
)

// ContentPart is one piece of a message's multi-modal content.
type ContentPart interface {
	PartType() ContentType
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

func (TextPart) PartType() ContentType { return ContentText }

// ImagePart references image content by URL or inline data.
type ImagePart struct {
	MimeType string
	URL      string
	Data     []byte
}

func (ImagePart) PartType() ContentType { return ContentImage }

// AudioPart carries audio content, used for voice turns that are attached
// to a message for logging/replay rather than streamed live.
type AudioPart struct {
	Format     string
	SampleRate int
	Data       []byte
}

func (AudioPart) PartType() ContentType { return ContentAudio }

// VideoPart references video content by URL.
type VideoPart struct {
	MimeType string
	URL      string
}

func (VideoPart) PartType() ContentType { return ContentVideo }

// FilePart references an arbitrary file attachment.
type FilePart struct {
	Name     string
	MimeType string
	URL      string
	Data     []byte
}

func (FilePart) PartType() ContentType { return ContentFile }
