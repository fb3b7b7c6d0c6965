package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test"

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"id":"evt_1"}`)
	valid := SignatureHeader(payload, testSecret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		at      time.Time
		want    error
	}{
		{"valid", payload, valid, testSecret, now, nil},
		{"valid within tolerance", payload, valid, testSecret, now.Add(4 * time.Minute), nil},
		{"rotated secret second entry", payload, valid + ",v1=00ff", testSecret, now, nil},
		{"missing header", payload, "", testSecret, now, ErrMissingSignature},
		{"missing secret", payload, valid, "", now, ErrMissingSignature},
		{"no timestamp", payload, "v1=abcd", testSecret, now, ErrInvalidHeader},
		{"no v1", payload, "t=1700000000", testSecret, now, ErrInvalidHeader},
		{"bad timestamp", payload, "t=abc,v1=abcd", testSecret, now, ErrInvalidHeader},
		{"too old", payload, valid, testSecret, now.Add(6 * time.Minute), ErrSignatureExpired},
		{"from the future", payload, valid, testSecret, now.Add(-6 * time.Minute), ErrSignatureExpired},
		{"tampered body", []byte(`{"id":"evt_2"}`), valid, testSecret, now, ErrSignatureInvalid},
		{"wrong secret", payload, valid, "other", now, ErrSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, tt.secret, tt.at, DefaultTolerance)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClassifySubmitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SubmitErrorClass
	}{
		{"nil", nil, ""},
		{"connection refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, Unreachable},
		{"dns failure", fmt.Errorf("submit: %w", &net.DNSError{Err: "no such host", Name: "redis"}), Unreachable},
		{"dial timeout", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}, Unreachable},
		{"read timeout", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("i/o timeout")}, Ambiguous},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, Ambiguous},
		{"deadline", context.DeadlineExceeded, Ambiguous},
		{"eof", io.EOF, Ambiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySubmitError(tt.err))
		})
	}
}
