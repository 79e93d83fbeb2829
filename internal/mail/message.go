package mail

// テンプレート名。
const (
	TemplateConfirm       = "confirm"
	TemplateResetPassword = "reset_password"
	TemplateChangeEmail   = "change_email"
)

// Message は送信キューに積むメール。本文はTemplateとDataから送信時に生成する。
type Message struct {
	To       string
	Subject  string
	Template string
	Data     map[string]any
}

// Envelope は送信可能な状態に組み立てたメール。
type Envelope struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}
