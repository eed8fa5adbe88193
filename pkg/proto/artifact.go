package proto

// Artifact describes a file or media object produced by a tool execution,
// as persisted by the artifact store and referenced by tool results.
type Artifact struct {
	Id         string
	Type       string
	MimeType   string
	Filename   string
	Size       int64
	TtlSeconds int64
	Reference  string
	Data       []byte
}
