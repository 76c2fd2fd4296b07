package service

import "fmt"

type IntentKind int

const (
	IntentStart IntentKind = iota
	IntentStop
	IntentRestart
	IntentSend
	IntentUpdatePath
	IntentExit
)

func (k IntentKind) String() string {
	switch k {
	case IntentStart:
		return "start"
	case IntentStop:
		return "stop"
	case IntentRestart:
		return "restart"
	case IntentSend:
		return "send"
	case IntentUpdatePath:
		return "update_path"
	case IntentExit:
		return "exit"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Intent is an operator request handled by the Router. The zero value is a
// start request.
type Intent struct {
	kind IntentKind
	text string
}

func StartServer() Intent   { return Intent{kind: IntentStart} }
func StopServer() Intent    { return Intent{kind: IntentStop} }
func RestartServer() Intent { return Intent{kind: IntentRestart} }
func Exit() Intent          { return Intent{kind: IntentExit} }

// SendCommand forwards text verbatim to the server's stdin.
func SendCommand(text string) Intent {
	return Intent{kind: IntentSend, text: text}
}

// UpdatePath rebinds the supervisor to the executable at path.
func UpdatePath(path string) Intent {
	return Intent{kind: IntentUpdatePath, text: path}
}

func (i Intent) Kind() IntentKind { return i.kind }

// Text is the command for IntentSend and the path for IntentUpdatePath.
func (i Intent) Text() string { return i.text }

func (i Intent) String() string {
	switch i.kind {
	case IntentSend, IntentUpdatePath:
		return fmt.Sprintf("%s(%q)", i.kind, i.text)
	default:
		return i.kind.String()
	}
}
