package saga

// State enumerates the 23 named saga states (§4.1.1).
type State int

const (
	New State = iota
	AwaitDial
	AwaitingDial
	DialAccepted
	SendDial
	SendingDial
	DialSent
	AwaitOffer
	AwaitingOffer
	OfferReceived
	SendOffer
	SendingOffer
	OfferSent
	AwaitAnswer
	AwaitingAnswer
	AnswerReceived
	SendAnswer
	SendingAnswer
	AnswerSent
	AwaitConnection
	AwaitingConnection
	Connected
	Closed
)

var stateNames = [...]string{
	"New", "AwaitDial", "AwaitingDial", "DialAccepted", "SendDial", "SendingDial",
	"DialSent", "AwaitOffer", "AwaitingOffer", "OfferReceived", "SendOffer",
	"SendingOffer", "OfferSent", "AwaitAnswer", "AwaitingAnswer", "AnswerReceived",
	"SendAnswer", "SendingAnswer", "AnswerSent", "AwaitConnection",
	"AwaitingConnection", "Connected", "Closed",
}

// String returns the state's name, used in structured log fields and
// metrics labels.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Ordinal returns the state's position in the enum, used by Connection's
// onProgress computation (§4.2): min(100, ceil(max(inState, outState) * 100
// / Connected)).
func (s State) Ordinal() int {
	return int(s)
}
