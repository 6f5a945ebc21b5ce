package dbgp

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// Kind classifies a message by its root element.
type Kind string

const (
	KindInit     Kind = "init"
	KindResponse Kind = "response"
	KindStream   Kind = "stream"
	KindNotify   Kind = "notify"
)

// Init is the engine's greeting.
type Init struct {
	FileURI  string
	Language string
	IDEKey   string
	AppID    string
	Protocol string
}

// Response answers one command.
type Response struct {
	Command       string
	TransactionID string
	Status        string
	Reason        string
	Success       string
	ErrorCode     string
	ErrorMessage  string
}

// Message is one decoded engine-to-IDE message.  Exactly one of Init
// and Response is set for those kinds; Stream carries decoded text.
type Message struct {
	Kind     Kind
	Init     *Init
	Response *Response
	Stream   string // decoded stream payload
	Type     string // stream type: stdout, stderr
	Name     string // notify name
}

// wireMessage mirrors every attribute used by the summarised roots.
type wireMessage struct {
	XMLName xml.Name

	FileURI         string `xml:"fileuri,attr"`
	Language        string `xml:"language,attr"`
	IDEKey          string `xml:"idekey,attr"`
	AppID           string `xml:"appid,attr"`
	ProtocolVersion string `xml:"protocol_version,attr"`

	Command       string `xml:"command,attr"`
	TransactionID string `xml:"transaction_id,attr"`
	Status        string `xml:"status,attr"`
	Reason        string `xml:"reason,attr"`
	Success       string `xml:"success,attr"`
	Error         *struct {
		Code    string `xml:"code,attr"`
		Message string `xml:"message"`
	} `xml:"error"`

	Type     string `xml:"type,attr"`
	Encoding string `xml:"encoding,attr"`
	Name     string `xml:"name,attr"`
	Text     string `xml:",chardata"`
}

// Parse decodes one frame body.  Engines commonly declare
// iso-8859-1, so non-UTF-8 declarations are transcoded.
func Parse(body []byte) (*Message, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charsetReader

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("dbgp: decoding message: %w", err)
	}

	m := &Message{Kind: Kind(w.XMLName.Local)}
	switch m.Kind {
	case KindInit:
		m.Init = &Init{
			FileURI:  w.FileURI,
			Language: w.Language,
			IDEKey:   w.IDEKey,
			AppID:    w.AppID,
			Protocol: w.ProtocolVersion,
		}
	case KindResponse:
		r := &Response{
			Command:       w.Command,
			TransactionID: w.TransactionID,
			Status:        w.Status,
			Reason:        w.Reason,
			Success:       w.Success,
		}
		if w.Error != nil {
			r.ErrorCode = w.Error.Code
			r.ErrorMessage = strings.TrimSpace(w.Error.Message)
		}
		m.Response = r
	case KindStream:
		m.Type = w.Type
		text := w.Text
		if w.Encoding == "base64" {
			raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
			if err != nil {
				return nil, fmt.Errorf("dbgp: decoding %s stream: %w", w.Type, err)
			}
			text = string(raw)
		}
		m.Stream = text
	case KindNotify:
		m.Name = w.Name
	}
	return m, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

// Summary renders the message as console lines.
func (m *Message) Summary() []string {
	switch m.Kind {
	case KindInit:
		i := m.Init
		s := "Connection established"
		if i.FileURI != "" {
			s += ": " + i.FileURI
		}
		var extra []string
		if i.Language != "" {
			extra = append(extra, i.Language)
		}
		if i.IDEKey != "" {
			extra = append(extra, "idekey "+i.IDEKey)
		}
		if len(extra) > 0 {
			s += " (" + strings.Join(extra, ", ") + ")"
		}
		return []string{s}

	case KindResponse:
		r := m.Response
		s := fmt.Sprintf("[%s] %s", r.TransactionID, r.Command)
		if r.Status != "" {
			s += ": " + r.Status
			if r.Reason != "" && r.Reason != "ok" {
				s += " (" + r.Reason + ")"
			}
		} else if r.Success != "" {
			s += ": success=" + r.Success
		}
		if r.ErrorCode != "" {
			s += fmt.Sprintf(" error %s", r.ErrorCode)
			if r.ErrorMessage != "" {
				s += ": " + r.ErrorMessage
			}
		}
		return []string{s}

	case KindStream:
		text := strings.TrimRight(m.Stream, "\n")
		if text == "" {
			return nil
		}
		lines := strings.Split(text, "\n")
		for i, l := range lines {
			lines[i] = m.Type + "> " + strings.TrimRight(l, "\r")
		}
		return lines

	case KindNotify:
		return []string{"notify: " + m.Name}

	default:
		return []string{string(m.Kind) + " message"}
	}
}
