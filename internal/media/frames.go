package media

// inboundFrame is one Twilio Media Streams message.
type inboundFrame struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Start     *startInfo `json:"start,omitempty"`
	Media     *mediaInfo `json:"media,omitempty"`
	Mark      *markInfo  `json:"mark,omitempty"`
	Stop      *stopInfo  `json:"stop,omitempty"`
}

type startInfo struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

type mediaInfo struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type markInfo struct {
	Name string `json:"name"`
}

type stopInfo struct {
	CallSid string `json:"callSid"`
}

// outboundFrame is what we send back on the stream.
type outboundFrame struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Media     *mediaInfo `json:"media,omitempty"`
}
