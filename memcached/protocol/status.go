package protocol

import "fmt"

// Status is the result code of a response
type Status uint16

const (
	StatusNoError          Status = 0x0000
	StatusKeyNotFound      Status = 0x0001
	StatusKeyExists        Status = 0x0002
	StatusValueTooLarge    Status = 0x0003
	StatusInvalidArguments Status = 0x0004
	StatusItemNotStored    Status = 0x0005
	StatusNonNumeric       Status = 0x0006
	StatusAuthError        Status = 0x0020
	StatusAuthContinue     Status = 0x0021
	StatusUnknownCommand   Status = 0x0081
	StatusOutOfMemory      Status = 0x0082
	StatusNotSupported     Status = 0x0083
	StatusInternalError    Status = 0x0084
	StatusBusy             Status = 0x0085
	StatusTemporaryFailure Status = 0x0086
)

var statusText = map[Status]string{
	StatusNoError:          "No error",
	StatusKeyNotFound:      "Not found",
	StatusKeyExists:        "Data exists for key",
	StatusValueTooLarge:    "Too large",
	StatusInvalidArguments: "Invalid arguments",
	StatusItemNotStored:    "Not stored",
	StatusNonNumeric:       "Non-numeric server-side value for incr or decr",
	StatusAuthError:        "Auth failure",
	StatusAuthContinue:     "Auth continue",
	StatusUnknownCommand:   "Unknown command",
	StatusOutOfMemory:      "Out of memory",
	StatusNotSupported:     "Not supported",
	StatusInternalError:    "Internal error",
	StatusBusy:             "Busy",
	StatusTemporaryFailure: "Temporary failure",
}

// Text returns the message memcached sends as body of an error response
func (s Status) Text() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("status 0x%04x", uint16(s))
}

func (s Status) String() string {
	return s.Text()
}
