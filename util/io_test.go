package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
)

func TestIsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"net closed", net.ErrClosed, true},
		{"op error", &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClosed(tt.err); got != tt.want {
				t.Errorf("IsClosed(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsClosed_Pipe(t *testing.T) {
	a, b := net.Pipe()
	b.Close()
	_, err := a.Read(make([]byte, 1))
	if !IsClosed(err) {
		t.Errorf("read from closed pipe: %v should count as closed", err)
	}
}

func TestReadChunk(t *testing.T) {
	data, err := ReadChunk(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" {
		t.Errorf("got %q", data)
	}

	data, err = ReadChunk(strings.NewReader(""))
	if err != io.EOF || data != nil {
		t.Errorf("empty reader: data=%q err=%v", data, err)
	}
}

func TestReadChunk_CopiesOutOfPool(t *testing.T) {
	first, _ := ReadChunk(bytes.NewReader([]byte("first")))
	ReadChunk(bytes.NewReader([]byte("XXXXXXXX"))) //nolint:errcheck
	if string(first) != "first" {
		t.Errorf("pooled buffer reuse leaked into earlier chunk: %q", first)
	}
}
