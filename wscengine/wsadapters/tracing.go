package wsadapters

// Instrumentation scope of the adapter decorator
const (
	pkgName    = "gowschat.wsadapters"
	pkgVersion = "0.1.0"
	namespace  = "websocket"
)

// Spans, one per adapter method
const (
	spanDial  = namespace + ".dial"
	spanClose = namespace + ".close"
	spanPing  = namespace + ".ping"
	spanWrite = namespace + ".write"
	spanRead  = namespace + ".read"
)

// Recorded on the read span once a message is returned
const eventReceived = namespace + ".message.received"

// Attributes
const (
	// Semantic convention key for the target URL
	attrUrl             = "url.full"
	attrCloseCode       = namespace + ".close.code"
	attrCloseReason     = namespace + ".close.reason"
	attrMessageByteSize = namespace + ".message.size"
	attrMessageType     = namespace + ".message.type"
)
