package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func testEnvelope() Envelope {
	return Envelope{
		From:    "PFT <noreply@example.com>",
		To:      "alice@example.com",
		Subject: "[PFT] Confirm Your Account",
		HTML:    "<p>Hello</p>",
		Text:    "Hello",
	}
}

func TestBuildMessage_MultipartAlternative(t *testing.T) {
	m, err := buildMessage(testEnvelope())
	require.NoError(t, err)

	var raw bytes.Buffer
	_, err = m.WriteTo(&raw)
	require.NoError(t, err)

	msg, err := mail.ReadMessage(&raw)
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "[PFT] Confirm Your Account", subject)

	to, err := mail.ParseAddress(msg.Header.Get("To"))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", to.Address)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var types, bodies []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		partType, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		require.NoError(t, err)
		types = append(types, partType)
		bodies = append(bodies, strings.TrimSpace(string(b)))
	}
	assert.Equal(t, []string{"text/plain", "text/html"}, types)
	assert.Equal(t, []string{"Hello", "<p>Hello</p>"}, bodies)
}

func TestBuildMessage_InvalidAddress(t *testing.T) {
	bad := testEnvelope()
	bad.To = "not an address"
	_, err := buildMessage(bad)
	assert.Error(t, err)
}

func TestNewSMTPSender_Options(t *testing.T) {
	s := NewSMTPSender(Config{Server: "smtp.example.com", Port: 2525, Username: "u", Password: "p", UseTLS: true})
	assert.Equal(t, "smtp.example.com", s.host)
	assert.Equal(t, 2525, s.port)
	assert.Equal(t, gomail.TLSMandatory, s.tls)
	assert.Equal(t, 10*time.Second, s.timeout, "zero timeout falls back to the default")

	plain := NewSMTPSender(Config{Server: "localhost", Port: 25, Timeout: time.Second})
	assert.Equal(t, gomail.TLSOpportunistic, plain.tls)
	assert.Equal(t, time.Second, plain.timeout)
}

// silentListener は接続を受け付けるだけで何も応答しないSMTPサーバーを立てる。
func silentListener(t *testing.T) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().(*net.TCPAddr)
}

func TestSMTPSender_SilentServerHonorsContextDeadline(t *testing.T) {
	addr := silentListener(t)
	s := NewSMTPSender(Config{Server: "127.0.0.1", Port: addr.Port, Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(ctx, testEnvelope()) }()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Send should give up once the context deadline passes")
	}
}

func TestSMTPSender_SilentServerHonorsTimeout(t *testing.T) {
	addr := silentListener(t)
	s := NewSMTPSender(Config{Server: "127.0.0.1", Port: addr.Port, Timeout: 200 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), testEnvelope()) }()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Send should give up after the configured timeout")
	}
}

func TestSMTPSender_Errors(t *testing.T) {
	// 閉じたポートへの接続は失敗する
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSMTPSender(Config{Server: "127.0.0.1", Port: port, Timeout: time.Second})
	assert.Error(t, s.Send(context.Background(), testEnvelope()))

	bad := testEnvelope()
	bad.To = "not an address"
	assert.Error(t, s.Send(context.Background(), bad))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, testEnvelope()), context.Canceled)
}

func TestLogSender_Send(t *testing.T) {
	var buf strings.Builder
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), testEnvelope()))
	assert.Contains(t, buf.String(), `"to":"alice@example.com"`)
}

func TestNewSender_Backend(t *testing.T) {
	assert.IsType(t, &SMTPSender{}, NewSender(Config{Backend: BackendSMTP, Server: "h", Port: 25}))
	assert.IsType(t, &LogSender{}, NewSender(Config{Backend: BackendLog}))
}
