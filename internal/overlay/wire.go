package overlay

// frameKind discriminates the small control protocol spoken between a ws
// hub and its connected clients: subscribe/unsubscribe maintain the topic
// registry, publish carries an application payload.
type frameKind string

const (
	frameSubscribe   frameKind = "subscribe"
	frameUnsubscribe frameKind = "unsubscribe"
	framePublish     frameKind = "publish"
)

// wireFrame is the sole JSON shape exchanged over the websocket connection
// in either direction.
type wireFrame struct {
	Kind    frameKind `json:"kind"`
	Topic   Topic     `json:"topic"`
	Payload []byte    `json:"payload,omitempty"`
}
