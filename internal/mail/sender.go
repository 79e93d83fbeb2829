package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Sender は組み立て済みのメールを配送する。
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// NewSender は設定のバックエンドに応じたSenderを返す。
func NewSender(cfg Config) Sender {
	if cfg.Backend == BackendSMTP {
		return NewSMTPSender(cfg)
	}
	return NewLogSender(slog.Default())
}

// SMTPSender はSMTPサーバー経由でメールを送信する。
// 接続から送信完了までをTimeoutとctxの期限の早い方で打ち切る。
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	tls      gomail.TLSPolicy
	timeout  time.Duration
}

// NewSMTPSender はSMTPSenderを生成する。ユーザー名が設定されていればPLAIN認証を使う。
func NewSMTPSender(cfg Config) *SMTPSender {
	policy := gomail.TLSOpportunistic
	if cfg.UseTLS {
		policy = gomail.TLSMandatory
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPSender{
		host:     cfg.Server,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		tls:      policy,
		timeout:  timeout,
	}
}

// Send はmultipart/alternative形式でメールを送信する。
func (s *SMTPSender) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(env)
	if err != nil {
		return err
	}

	// ctxが終わったら接続を閉じて、応答待ちのI/Oを解放する
	var stops []func() bool
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()
	dialer := &net.Dialer{Timeout: s.timeout}
	dial := func(dialCtx context.Context, network, address string) (net.Conn, error) {
		conn, err := dialer.DialContext(dialCtx, network, address)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(s.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
		stops = append(stops, context.AfterFunc(ctx, func() { conn.Close() }))
		return conn, nil
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPolicy(s.tls),
		gomail.WithTimeout(s.timeout),
		gomail.WithDialContextFunc(dial),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}
	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", net.JoinHostPort(s.host, strconv.Itoa(s.port)), err)
	}
	return nil
}

// buildMessage はテキストとHTMLの2パートからなるメッセージを組み立てる。
func buildMessage(env Envelope) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(env.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", env.From, err)
	}
	if err := msg.To(env.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", env.To, err)
	}
	msg.Subject(env.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, env.Text)
	msg.AddAlternativeString(gomail.TypeTextHTML, env.HTML)
	return msg, nil
}

// LogSender はメールを送信せずログに出力する。開発環境向け。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はメールの内容をログに出力する。
func (s *LogSender) Send(ctx context.Context, env Envelope) error {
	s.logger.InfoContext(ctx, "mail delivered to log",
		slog.String("from", env.From),
		slog.String("to", env.To),
		slog.String("subject", env.Subject),
		slog.String("text", env.Text),
	)
	return nil
}
