package app

import "slices"

// Command はpftの起動モード（サブコマンド）。
type Command string

const (
	// CommandServe はHTMLの認証画面を配信するWebサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期的に削除するワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers / sessionsのスキーマを最新化して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のWebサーバーの/healthを叩いて終了コードで結果を返す。
	// シェルのないdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 2番目以降の引数は見ない。未指定や未知の名前はWebサーバーとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd := Command(args[0]); slices.Contains(knownCommands, cmd) {
		return cmd
	}
	return CommandServe
}
