package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期チェックを行うワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	CommandHealthcheck Command = "healthcheck"
	// CommandCheckNow はバッチを1回だけ実行して終了することを示す。
	CommandCheckNow Command = "check-now"
	// CommandAddSite は監視サイトを登録して終了することを示す。
	CommandAddSite Command = "add-site"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandWorker, CommandServe, CommandMigrate, CommandHealthcheck, CommandCheckNow, CommandAddSite:
		return Command(args[0])
	default:
		return CommandServe
	}
}
